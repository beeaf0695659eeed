package yaetl

import (
	"context"
	"iter"
	"sync/atomic"
)

// Record is the value flowing through a Flow. Concrete node libraries most
// commonly use map[string]any (see nodes/arraynode), but any type is
// accepted — the engine never inspects a record's shape except when reading
// a join key (join.go's getField).
type Record = any

// Extractor produces records in batches. Extract pulls (and, for a root
// extractor in a from-chain, indexes) the next batch; it reports true iff
// records were obtained. GetTraversable yields the records of the most
// recently pulled batch one at a time.
//
// param is threaded through unchanged from Flow.Exec; root extractors
// typically ignore it, while continuation extractors registered via
// Flow.From's upstream argument may use it to carry state forward.
type Extractor interface {
	Extract(ctx context.Context, param any) (bool, error)
	GetTraversable(ctx context.Context, param any) iter.Seq[Record]
}

// Joinable is an extractor usable as the right-hand side of a Join. Extract
// fetches and indexes the batch matching key (composite extraction keys are
// an implementation detail of the Joinable); Lookup resolves a single field
// value against that index. The index must be rebuilt on every new batch.
type Joinable interface {
	Extract(ctx context.Context, key any) (bool, error)
	Lookup(key any) (Record, bool)
}

// Transformer maps one record to another. isAReturningVal is true for
// transformers: the returned record replaces the current record for
// downstream nodes.
type Transformer interface {
	Transform(ctx context.Context, rec Record) (Record, *Interrupter, error)
}

// Loader consumes a record and eventually commits it via Flush.
// isAReturningVal is false for loaders: Exec returns no record, so
// downstream nodes keep the record the loader received and only its
// Interrupter and error matter — loaders follow
// the same directive protocol as transformers, just without replacing the
// record.
//
// Flush is called by the loader itself mid-flow with a nil status when it
// chooses to drain an internal buffer, and by the engine exactly once per
// flow run with a non-nil status once traversal ends.
type Loader interface {
	Exec(ctx context.Context, rec Record) (*Interrupter, error)
	Flush(ctx context.Context, status *FlowStatus) error
}

// Qualifier decides whether a record proceeds. A nil Interrupter return
// means accept; a non-nil Interrupter is honored as specified by its
// fields (typically Reject(), a plain carrier-flow-confined continue).
type Qualifier interface {
	Qualify(ctx context.Context, rec Record) (*Interrupter, error)
}

// nodeKind tags which capability contract a composed node entry follows.
// The engine pattern-matches this tag in the inner walk rather than relying
// on a class hierarchy.
type nodeKind int

const (
	kindExtractor nodeKind = iota
	kindTransformer
	kindLoader
	kindQualifier
	kindJoin
	kindBranch
)

// nodeStats accumulates the per-node counters surfaced by Flow.GetStats.
type nodeStats struct {
	processed atomic.Int64
	continues atomic.Int64
	breaks    atomic.Int64
	errors    atomic.Int64
	flushes   atomic.Int64
}

// nodeEntry is the engine's internal record of one composed node: its id,
// its position in the flow's node list, which capability it implements, and
// its running counters. User code never sees this type directly.
type nodeEntry struct {
	id          NodeID
	kind        nodeKind
	index       int
	returning   bool
	traversable bool

	extractor    Extractor
	joinable     Joinable
	transformer  Transformer
	loader       Loader
	qualifier    Qualifier
	branch       *Flow
	forceFlush   bool
	joinClose    *JoinClose
	joinUpstream *nodeEntry

	stats nodeStats
}

// NodeOption customizes a composed node at the point it is added to a Flow.
type NodeOption func(*nodeOptions)

type nodeOptions struct {
	id NodeID
}

// WithID assigns an explicit, process-unique node id instead of letting the
// Flow generate one. Required when the node is later targeted by a
// Continue/Break directive or by Flow.SendTo.
func WithID(id NodeID) NodeOption {
	return func(o *nodeOptions) { o.id = id }
}

func resolveNodeOptions(opts []NodeOption) nodeOptions {
	var o nodeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
