package yaetl

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// NodeStats is a snapshot of one node's running counters.
type NodeStats struct {
	ID        NodeID
	Kind      string
	Processed int64
	Continues int64
	Breaks    int64
	Errors    int64
	Flushes   int64
}

// FlowStats is a point-in-time snapshot of a Flow's bookkeeping, returned by
// GetStats and handed to every Callbacks hook.
type FlowStats struct {
	FlowID    NodeID
	RecordsIn int64
	Elapsed   time.Duration
	Nodes     []NodeStats
}

func kindLabel(k nodeKind) string {
	switch k {
	case kindExtractor:
		return "extractor"
	case kindTransformer:
		return "transformer"
	case kindLoader:
		return "loader"
	case kindQualifier:
		return "qualifier"
	case kindJoin:
		return "join"
	case kindBranch:
		return "branch"
	default:
		return "unknown"
	}
}

// GetStats snapshots this flow's counters. Safe to call concurrently with a
// running Exec; node counters are atomic, but RecordsIn and Elapsed may lag
// slightly behind the live run.
func (f *Flow) GetStats() *FlowStats {
	st := &FlowStats{
		FlowID:    f.id,
		RecordsIn: f.stats.recordsIn,
		Elapsed:   f.stats.elapsed,
		Nodes:     make([]NodeStats, 0, len(f.nodes)),
	}
	for _, n := range f.nodes {
		st.Nodes = append(st.Nodes, NodeStats{
			ID:        n.id,
			Kind:      kindLabel(n.kind),
			Processed: n.stats.processed.Load(),
			Continues: n.stats.continues.Load(),
			Breaks:    n.stats.breaks.Load(),
			Errors:    n.stats.errors.Load(),
			Flushes:   n.stats.flushes.Load(),
		})
	}
	return st
}

// LogValue implements slog.LogValuer so a FlowStats can be passed straight
// to a structured logger.
func (s *FlowStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("flow", string(s.FlowID)),
		slog.Int64("records_in", s.RecordsIn),
		slog.Duration("elapsed", s.Elapsed),
	}
	for _, n := range s.Nodes {
		attrs = append(attrs, slog.Group(string(n.ID),
			slog.String("kind", n.Kind),
			slog.Int64("processed", n.Processed),
			slog.Int64("continues", n.Continues),
			slog.Int64("breaks", n.Breaks),
			slog.Int64("errors", n.Errors),
			slog.Int64("flushes", n.Flushes),
		))
	}
	return slog.GroupValue(attrs...)
}

// Report renders the snapshot as a table, one row per node, for console
// output or log attachment.
func (s *FlowStats) Report() string {
	var b strings.Builder
	t := table.NewWriter()
	t.SetOutputMirror(&b)
	t.AppendHeader(table.Row{"Node", "Kind", "Processed", "Continues", "Breaks", "Errors", "Flushes"})
	for _, n := range s.Nodes {
		t.AppendRow(table.Row{n.ID, n.Kind, n.Processed, n.Continues, n.Breaks, n.Errors, n.Flushes})
	}
	t.AppendFooter(table.Row{"flow " + string(s.FlowID), "", "", "", "", "", fmt.Sprintf("%d records in %s", s.RecordsIn, s.Elapsed)})
	t.Render()
	return b.String()
}
