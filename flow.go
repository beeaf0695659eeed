package yaetl

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultDrainTimeout bounds how long a cancelled Flow waits for the record
// currently in flight to reach a loader flush before the grace window
// lapses.
const DefaultDrainTimeout = 5 * time.Second

// Callbacks are the passive observer set: invoked at well-defined lifecycle
// points, never mutating records or altering control flow.
type Callbacks struct {
	OnStart        func(ctx context.Context, f *Flow)
	OnFlowProgress func(ctx context.Context, f *Flow, stats *FlowStats)
	OnSuccess      func(ctx context.Context, f *Flow, stats *FlowStats)
	OnFail         func(ctx context.Context, f *Flow, err error, stats *FlowStats)
}

// Flow is an ordered list of nodes: the driver of the outer extract loop and
// inner record loop, and the owner of progress bookkeeping and flush
// orchestration.
type Flow struct {
	id    NodeID
	nodes []*nodeEntry

	extractorsByPtr map[any]*nodeEntry
	rootChain       *extractorLink

	parent       *Flow
	forceFlush   bool
	running      bool
	reportEvery  int
	drainTimeout *time.Duration

	callbacks Callbacks
	logger    *logrus.Logger

	stats flowCounters

	// lastDirective carries an Interrupter that this flow's own run could
	// not resolve (no matching node/flow id anywhere in it) so execBranch
	// can hand it to the parent's resolveDirective for another attempt.
	// Valid only immediately after Exec returns with status StatusDirty
	// and only when this flow was run as a branch (parent != nil).
	lastDirective *Interrupter
}

// extractorLink threads the from-chain: when node drains, the engine
// advances to next.
type extractorLink struct {
	node *nodeEntry
	next *extractorLink
}

// flowCounters tracks the aggregate bookkeeping exposed via GetStats.
type flowCounters struct {
	recordsIn int64
	started   time.Time
	elapsed   time.Duration
}

// NewFlow creates an empty Flow. Use WithID to pin its id for targeting by
// an ancestor directive or Branch; otherwise one is generated.
func NewFlow(opts ...NodeOption) *Flow {
	o := resolveNodeOptions(opts)
	id := o.id
	if id == "" {
		id = newID()
	} else if err := reserveID(id); err != nil {
		panic(err)
	}
	return &Flow{
		id:              id,
		extractorsByPtr: map[any]*nodeEntry{},
		reportEvery:     1000,
	}
}

// ID returns this flow's id. A Flow is itself addressable because it may be
// embedded as a Branch node inside a parent Flow.
func (f *Flow) ID() NodeID { return f.id }

// WithLogger attaches a structured logger used by the default OnFail path
// and by this flow's own diagnostics.
func (f *Flow) WithLogger(l *logrus.Logger) *Flow {
	f.logger = l
	return f
}

// WithCallbacks installs the lifecycle observer set.
func (f *Flow) WithCallbacks(cb Callbacks) *Flow {
	f.callbacks = cb
	return f
}

// WithDrainTimeout bounds how long Exec waits, after its context is
// cancelled, for the record currently in flight to reach a loader flush
// before the grace window lapses and node calls start observing the
// cancellation themselves. Zero disables the grace window.
func (f *Flow) WithDrainTimeout(d time.Duration) *Flow {
	f.drainTimeout = &d
	return f
}

// WithReportInterval sets how many records pass through the outer loop
// between OnFlowProgress callbacks. Default is 1000.
func (f *Flow) WithReportInterval(n int) *Flow {
	if n > 0 {
		f.reportEvery = n
	}
	return f
}

func (f *Flow) drainTimeoutOrDefault() time.Duration {
	if f.drainTimeout != nil {
		return *f.drainTimeout
	}
	return DefaultDrainTimeout
}

func (f *Flow) addNode(n *nodeEntry) {
	n.index = len(f.nodes)
	f.nodes = append(f.nodes, n)
}

func (f *Flow) resolveID(opts []NodeOption) NodeID {
	o := resolveNodeOptions(opts)
	if o.id != "" {
		if err := reserveID(o.id); err != nil {
			panic(err)
		}
		return o.id
	}
	return newID()
}

func extractorKey(e Extractor) any { return e }

// From registers an extractor. The first extractor registered on a Flow
// with no upstream becomes the root of the from-chain. When upstream is
// given, extractor becomes the chain's continuation once upstream drains.
func (f *Flow) From(extractor Extractor, upstream ...Extractor) *Flow {
	n := &nodeEntry{id: f.resolveID(nil), kind: kindExtractor, extractor: extractor, traversable: true}
	f.addNode(n)
	f.extractorsByPtr[extractorKey(extractor)] = n

	link := &extractorLink{node: n}
	if len(upstream) == 0 {
		f.appendChain(f.rootChain, link, true)
		return f
	}

	up, ok := f.extractorsByPtr[extractorKey(upstream[0])]
	if !ok {
		panic(newCompositionError("From", "upstream extractor not registered on this flow"))
	}
	upLink := f.linkFor(up)
	if upLink == nil {
		panic(newCompositionError("From", "upstream extractor has no chain link"))
	}
	f.appendChain(upLink, link, false)
	return f
}

func (f *Flow) appendChain(head *extractorLink, link *extractorLink, isRoot bool) {
	if isRoot && f.rootChain == nil {
		f.rootChain = link
		return
	}
	tail := head
	if tail == nil {
		f.rootChain = link
		return
	}
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = link
}

func (f *Flow) linkFor(n *nodeEntry) *extractorLink {
	for l := f.rootChain; l != nil; l = l.next {
		if l.node == n {
			return l
		}
	}
	return nil
}

// Transform appends a transformer node.
func (f *Flow) Transform(t Transformer, opts ...NodeOption) *Flow {
	n := &nodeEntry{id: f.resolveID(opts), kind: kindTransformer, transformer: t, returning: true}
	f.addNode(n)
	return f
}

// To appends a loader node.
func (f *Flow) To(l Loader, opts ...NodeOption) *Flow {
	n := &nodeEntry{id: f.resolveID(opts), kind: kindLoader, loader: l, returning: false}
	f.addNode(n)
	return f
}

// Qualify appends a qualifier node.
func (f *Flow) Qualify(q Qualifier, opts ...NodeOption) *Flow {
	n := &nodeEntry{id: f.resolveID(opts), kind: kindQualifier, qualifier: q, returning: false}
	f.addNode(n)
	return f
}

// Join appends a join node. upstream must already be registered via From on
// this flow: its current record supplies the join key. onClose configures
// the key fields, merge function, and optional left-join default. Composite
// keys are fine for fetching a batch but the lookup key itself must resolve
// to a single field.
func (f *Flow) Join(joinable Joinable, upstream Extractor, onClose *JoinClose, opts ...NodeOption) *Flow {
	up, ok := f.extractorsByPtr[extractorKey(upstream)]
	if !ok {
		panic(newCompositionError("Join", "join against an unregistered upstream extractor"))
	}
	n := &nodeEntry{id: f.resolveID(opts), kind: kindJoin, joinable: joinable, joinClose: onClose, joinUpstream: up, returning: true}
	f.addNode(n)
	return f
}

// Branch embeds sub as a node: sub runs its own exec semantics once per
// upstream record, with the record as sub's seed parameter. By default
// sub's loaders flush only when the root flow performs its final flush; if
// forceFlush is true, sub flushes its own loaders at the end of every
// branch execution instead.
func (f *Flow) Branch(sub *Flow, forceFlush ...bool) *Flow {
	ff := len(forceFlush) > 0 && forceFlush[0]
	sub.parent = f
	sub.forceFlush = ff
	n := &nodeEntry{id: sub.id, kind: kindBranch, branch: sub, forceFlush: ff, returning: false}
	f.addNode(n)
	return f
}

// SendTo injects rec directly at the node named id, bypassing earlier
// nodes. Provided for testing and cross-branch coordination.
func (f *Flow) SendTo(ctx context.Context, id NodeID, rec Record) (*Interrupter, error) {
	idx := f.indexOf(id)
	if idx < 0 {
		return nil, newCompositionError("SendTo", "no node with id %q in flow %q", id, f.id)
	}
	directive, _, _, err := f.walkValue(ctx, ctx, idx, rec)
	return directive, err
}

func (f *Flow) indexOf(id NodeID) int {
	for _, n := range f.nodes {
		if n.id == id {
			return n.index
		}
	}
	return -1
}

func (f *Flow) hasExtractors() bool { return f.rootChain != nil }

// Exec runs the flow. If the flow has registered extractors it returns a
// FlowStatus (the result value is nil); otherwise it walks its node list
// once with param as the seed record and returns the final record value
// alongside the run's status (clean, dirty after a break, or exception).
func (f *Flow) Exec(ctx context.Context, param any) (result any, status FlowStatus, err error) {
	if f.running {
		return nil, StatusException, ErrReentrant
	}
	f.running = true
	f.lastDirective = nil
	f.stats.started = time.Now()
	defer func() {
		f.stats.elapsed += time.Since(f.stats.started)
		f.running = false
	}()

	if f.callbacks.OnStart != nil {
		if cerr := f.invokeCallback(func() { f.callbacks.OnStart(ctx, f) }); cerr != nil {
			f.finishCallbacks(ctx, StatusException, cerr)
			return nil, StatusException, cerr
		}
	}

	drainCtx, cancel := f.withDrain(ctx)
	defer cancel()

	var directive *Interrupter
	var bubble bool
	if f.hasExtractors() {
		status, directive, bubble, err = f.runExtractorMode(ctx, drainCtx, param)
	} else {
		result, status, directive, bubble, err = f.runLinear(ctx, drainCtx, param)
	}

	if err == nil && directive != nil {
		switch {
		case bubble && f.parent != nil:
			f.lastDirective = directive
			status = StatusDirty
		case bubble:
			// No ancestor left to resolve against: an interrupter routing
			// error: treated as a composition error.
			err = newCompositionError("Exec", "interrupter targets unresolved node %q / flow %q", directive.targetNodeID, directive.targetFlowID)
			status = StatusException
		default:
			status = StatusDirty
		}
	}

	if f.parent == nil || f.forceFlush {
		if ferr := f.finalFlush(drainCtx, status); ferr != nil {
			if status != StatusException {
				status = StatusException
			}
			if err == nil {
				err = ferr
			}
		}
	}

	f.finishCallbacks(ctx, status, err)
	return result, status, err
}

// withDrain derives a context that keeps node calls live for up to
// drainTimeout after ctx is cancelled, so the record in flight can still
// reach a loader flush: a timer goroutine cancels the derived context
// itself once the grace window lapses, while the derived context otherwise
// ignores ctx's own cancellation.
func (f *Flow) withDrain(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := f.drainTimeoutOrDefault()
	drainCtx, drainCancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if timeout <= 0 {
				drainCancel()
				return
			}
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			select {
			case <-timer.C:
				drainCancel()
			case <-done:
			}
		case <-done:
		}
	}()
	return drainCtx, func() { close(done); drainCancel() }
}

// invokeCallback runs fn, treating a panic inside a user-supplied callback as
// a runtime node error rather than letting it escape Exec.
func (f *Flow) invokeCallback(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = wrapNodeErr(StageCallback, f.id, fmt.Errorf("callback panicked: %v", r))
		}
	}()
	fn()
	return nil
}

func (f *Flow) finishCallbacks(ctx context.Context, status FlowStatus, err error) {
	st := f.GetStats()
	if err != nil {
		if f.callbacks.OnFail != nil {
			_ = f.invokeCallback(func() { f.callbacks.OnFail(ctx, f, err, st) })
		} else if f.logger != nil {
			f.logger.WithError(err).WithField("flow", f.id).Error("flow failed")
		}
		return
	}
	if f.callbacks.OnSuccess != nil {
		_ = f.invokeCallback(func() { f.callbacks.OnSuccess(ctx, f, st) })
	}
}

// runLinear handles a flow with zero extractors: it walks all nodes once
// with param threaded through returning-value nodes.
func (f *Flow) runLinear(ctx, drainCtx context.Context, param any) (value any, status FlowStatus, directive *Interrupter, bubble bool, err error) {
	directive, bubble, value, err = f.walkValue(ctx, drainCtx, 0, param)
	if err != nil {
		return value, StatusException, nil, false, err
	}
	if directive != nil && !bubble {
		return value, StatusDirty, nil, false, nil
	}
	return value, StatusClean, directive, bubble, nil
}

// runExtractorMode drives the outer extract loop, pulling batches from the
// from-chain and walking every record in each batch through the rest of
// the node list.
func (f *Flow) runExtractorMode(ctx, drainCtx context.Context, param any) (status FlowStatus, directive *Interrupter, bubble bool, err error) {
	status = StatusClean

	for link := f.rootChain; link != nil; link = link.next {
		n := link.node
		for {
			select {
			case <-ctx.Done():
				return StatusDirty, nil, false, nil
			default:
			}

			ok, extractErr := n.extractor.Extract(ctx, param)
			if extractErr != nil {
				return StatusException, nil, false, wrapNodeErr(StageExtract, n.id, extractErr)
			}
			if !ok {
				break
			}

			for rec := range n.extractor.GetTraversable(ctx, param) {
				f.stats.recordsIn++

				d, b, _, werr := f.walkValue(ctx, drainCtx, n.index+1, rec)
				if werr != nil {
					return StatusException, nil, false, werr
				}
				if d != nil {
					if b {
						return StatusDirty, d, true, nil
					}
					return StatusDirty, nil, false, nil
				}

				if perr := f.maybeProgress(ctx); perr != nil {
					return StatusException, nil, false, perr
				}

				select {
				case <-ctx.Done():
					return StatusDirty, nil, false, nil
				default:
				}
			}
		}
	}
	return status, nil, false, nil
}

func (f *Flow) maybeProgress(ctx context.Context) error {
	if f.callbacks.OnFlowProgress == nil || f.reportEvery <= 0 {
		return nil
	}
	if f.stats.recordsIn%int64(f.reportEvery) != 0 {
		return nil
	}
	return f.invokeCallback(func() { f.callbacks.OnFlowProgress(ctx, f, f.GetStats()) })
}

// walkValue drives one record through nodes[start:]. ctx governs the
// between-nodes suspension check; drainCtx is threaded into node calls so a
// node watching its own context gets the grace window instead of an
// immediate cancellation. The returned directive is non-nil when traversal
// ended on a break or on a directive that must bubble; a continue resolved
// inside this flow ends the walk with a nil directive. bubble reports
// whether the directive's target could not be resolved within this flow and
// must be re-offered to an ancestor.
func (f *Flow) walkValue(ctx, drainCtx context.Context, start int, rec Record) (directive *Interrupter, bubble bool, cur Record, err error) {
	cur = rec
	for i := start; i < len(f.nodes); i++ {
		select {
		case <-ctx.Done():
			return Break(), false, cur, nil
		default:
		}

		n := f.nodes[i]
		var (
			next Record
			d    *Interrupter
			nerr error
		)

		switch n.kind {
		case kindTransformer:
			next, d, nerr = n.transformer.Transform(drainCtx, cur)
			nerr = wrapNodeErr(StageTransform, n.id, nerr)
		case kindLoader:
			d, nerr = n.loader.Exec(drainCtx, cur)
			nerr = wrapNodeErr(StageLoad, n.id, nerr)
			next = cur
		case kindQualifier:
			d, nerr = n.qualifier.Qualify(drainCtx, cur)
			nerr = wrapNodeErr(StageQualify, n.id, nerr)
			next = cur
		case kindJoin:
			next, d, nerr = f.doJoin(drainCtx, n, cur)
			nerr = wrapNodeErr(StageJoin, n.id, nerr)
		case kindBranch:
			d, nerr = f.execBranch(drainCtx, n, cur)
			next = cur
		default:
			next = cur
		}

		if nerr != nil {
			n.stats.errors.Add(1)
			return nil, false, cur, nerr
		}

		if n.returning {
			cur = next
		}

		if d == nil {
			n.stats.processed.Add(1)
			continue
		}

		resolved, shouldBubble := f.resolveDirective(d)
		if shouldBubble {
			return resolved, true, cur, nil
		}
		if resolved.IsBreak() {
			n.stats.breaks.Add(1)
			return resolved, false, cur, nil
		}

		n.stats.continues.Add(1)
		if resolved.targetNodeID != "" {
			if idx := f.indexOf(resolved.targetNodeID); idx >= 0 {
				i = idx - 1 // resume AT idx on the next loop iteration
				continue
			}
		}
		return nil, false, cur, nil
	}
	return nil, false, cur, nil
}

// resolveDirective implements the ancestor-routing algorithm: a directive
// with no target is confined to this flow; one naming a node/flow found
// here is consumed here; one naming neither is bubbled to the caller
// (which, for a branch, is the parent flow) unchanged.
func (f *Flow) resolveDirective(d *Interrupter) (resolved *Interrupter, bubble bool) {
	if d.targetFlowID != "" && d.targetFlowID != f.id {
		return d, true
	}
	if d.targetNodeID != "" && f.indexOf(d.targetNodeID) < 0 {
		return d, true
	}
	return d, false
}

// execBranch runs a branch flow once for rec. A fully-local break inside
// the branch (no bubbling directive) has no effect on the parent.
func (f *Flow) execBranch(ctx context.Context, n *nodeEntry, rec Record) (*Interrupter, error) {
	sub := n.branch
	_, status, err := sub.Exec(ctx, rec)
	if err != nil {
		return nil, wrapNodeErr(StageBranch, n.id, err)
	}
	if status == StatusDirty && sub.lastDirective != nil {
		d := sub.lastDirective
		sub.lastDirective = nil
		return d, nil
	}
	return nil, nil
}

// finalFlush flushes this flow's own loaders, in composition order,
// recursing into any non-forceFlush branch so its loaders are flushed
// exactly once as part of this pass. A forceFlush branch flushes itself
// from Exec instead and is skipped here.
func (f *Flow) finalFlush(ctx context.Context, status FlowStatus) error {
	st := status
	var firstErr error
	for _, n := range f.nodes {
		switch n.kind {
		case kindLoader:
			if err := n.loader.Flush(ctx, &st); err != nil {
				n.stats.errors.Add(1)
				if firstErr == nil {
					firstErr = wrapNodeErr(StageFlush, n.id, err)
				}
				continue
			}
			n.stats.flushes.Add(1)
		case kindBranch:
			if n.forceFlush {
				continue
			}
			if err := n.branch.finalFlush(ctx, status); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
