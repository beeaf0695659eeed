package yaetl

// FlowStatus is a Flow run's terminal disposition.
type FlowStatus string

const (
	// StatusClean means every extractor drained and every record either
	// traversed normally or was continue-skipped.
	StatusClean FlowStatus = "clean"
	// StatusDirty means the flow was broken from inside: a node emitted a
	// break directive, or a break-targeted interrupter reached the flow.
	StatusDirty FlowStatus = "dirty"
	// StatusException means a node raised an unrecoverable error during
	// traversal.
	StatusException FlowStatus = "exception"
)

// directiveKind distinguishes the two interrupter flavors: continue and break.
type directiveKind int

const (
	directiveContinue directiveKind = iota
	directiveBreak
)

// Interrupter is the directive a node may emit instead of (or alongside)
// returning a value, altering traversal order. The zero value is never a
// valid Interrupter; use Continue or Break to construct one.
type Interrupter struct {
	kind         directiveKind
	targetNodeID NodeID
	targetFlowID NodeID
}

// Continue aborts the inner walk for the current record; the outer loop
// proceeds to the next record from the producing extractor. Confined to the
// carrier flow unless To/ToFlow names an ancestor.
func Continue() *Interrupter {
	return &Interrupter{kind: directiveContinue}
}

// Break aborts both the inner walk and the outer extractor loop of the
// carrier flow, setting its terminal status to dirty.
func Break() *Interrupter {
	return &Interrupter{kind: directiveBreak}
}

// To names a target node id that the directive unwinds to: a resume point
// for Continue, or a stop-at-or-above point for Break.
func (i *Interrupter) To(nodeID NodeID) *Interrupter {
	i.targetNodeID = nodeID
	return i
}

// ToFlow names an ancestor flow id the directive targets. Used together
// with To when the target node lives in an ancestor of the carrier flow.
func (i *Interrupter) ToFlow(flowID NodeID) *Interrupter {
	i.targetFlowID = flowID
	return i
}

// IsBreak reports whether the directive is a break.
func (i *Interrupter) IsBreak() bool { return i != nil && i.kind == directiveBreak }

// IsContinue reports whether the directive is a continue.
func (i *Interrupter) IsContinue() bool { return i != nil && i.kind == directiveContinue }

// Reject is the Qualifier convention for "false/absent": a plain continue
// confined to the carrier flow.
func Reject() *Interrupter { return Continue() }
