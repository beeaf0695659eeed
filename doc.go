// Package yaetl provides a graph-based Extract-Transform-Load engine.
//
// A Flow is composed as an ordered list of nodes, each implementing one of a
// small set of capability interfaces: Extractor, Transformer, Loader,
// Qualifier and Joinable. Records flow through the composed nodes one at a
// time; a node may replace the record, drop it, or redirect traversal by
// returning an Interrupter.
//
// # Quick Start
//
// Compose a flow from a source extractor, a transformer, and a loader:
//
//	source, err := csvnode.NewExtractor(r, 500)
//	f := yaetl.NewFlow().
//	    From(source).
//	    Transform(arraynode.Set("imported_at", func() any { return time.Now() })).
//	    To(sqlnode.NewLoader(db, targetMapping, 100))
//
//	_, status, err := f.Exec(ctx, nil)
//
// Exec returns a FlowStatus (clean, dirty, or exception) when the flow has
// registered extractors; result is nil in that case, since the flow drives
// its own record stream instead of returning a single value.
//
// # Interrupters
//
// A Transformer, Loader, or Qualifier may return a non-nil *Interrupter
// instead of letting the record continue normally:
//
//	func (t *dedup) Transform(ctx context.Context, rec yaetl.Record) (yaetl.Record, *yaetl.Interrupter, error) {
//	    if t.seen[key(rec)] {
//	        return nil, yaetl.Continue(), nil // drop this record, keep going
//	    }
//	    t.seen[key(rec)] = true
//	    return rec, nil, nil
//	}
//
// Continue aborts the current record's walk and resumes with the next
// record from the extractor. Break aborts both the walk and the extractor's
// outer loop, ending the flow with StatusDirty. Both default to being
// confined to the flow that raised them; To and ToFlow name a specific node
// or ancestor flow to resume at or unwind to instead, for use from inside a
// Branch.
//
// # Joins
//
// Join looks a record up against a Joinable extractor and merges the hit
// (or a configured default, for a left join) into the upstream record:
//
//	f.From(orders).
//	    Join(customers, orders, yaetl.NewJoinClose("customer_id", "id",
//	        func(order, customer yaetl.Record) yaetl.Record {
//	            m := order.(map[string]any)
//	            m["customer_name"] = customer.(map[string]any)["name"]
//	            return m
//	        },
//	    ))
//
// Without WithDefault, a lookup miss drops the record (inner join); with
// WithDefault, a miss merges in the default record instead (left join).
//
// # Branches
//
// Branch embeds another Flow as a node. The sub-flow runs to its own
// terminal state once per upstream record, using that record as its seed
// parameter:
//
//	audit := yaetl.NewFlow().To(auditLoader)
//	f.Branch(audit)
//
// By default a branch's loaders are not flushed when the branch finishes;
// they flush once, alongside the root flow's own loaders, when the root
// flow's traversal ends. Pass true as Branch's second argument to flush the
// branch's loaders after every single invocation instead.
//
// # Configuration
//
// Every configuration knob is a WithXxx builder method returning the
// receiver, so composition reads as one chain:
//
//	f := yaetl.NewFlow().
//	    WithLogger(logger).
//	    WithDrainTimeout(30 * time.Second).
//	    WithReportInterval(5000).
//	    WithCallbacks(yaetl.Callbacks{OnFail: reportFailure})
//
// # Cancellation
//
// Exec's context, once cancelled, is surfaced as a synthesized break at the
// next record or inter-node boundary — never mid-node. WithDrainTimeout
// bounds how long the record already in flight is given to reach a loader
// flush before node calls themselves start observing the cancellation.
//
// # Inspection
//
// GetStats returns per-node counters and a human-readable Report table;
// DOT renders the composed graph, including branch subgraphs and join
// dependency edges, as Graphviz source.
package yaetl
