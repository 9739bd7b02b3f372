package veo

// Phase is the assembler's coarse lifecycle position, spec.md §4.7. The
// fine-grained legality of structural operations (add_information_object,
// add_metadata_package, add_information_piece, ...) is delegated to the
// content builder's own state machine; Phase only distinguishes the
// handful of states the assembler itself must gate: whether files are
// still open for writing, whether at least one signature has been
// attached, and whether the VEO has been finalised.
type Phase int

const (
	// PhaseBuilding covers VEO_STARTED, IO_STARTED, ADDING_MP and
	// ADDING_IP collectively — structural operations are still legal,
	// gated case-by-case by the content builder.
	PhaseBuilding Phase = iota
	PhaseFinishedFiles
	PhaseSigned
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseBuilding:
		return "VEO_STARTED"
	case PhaseFinishedFiles:
		return "FINISHED_FILES"
	case PhaseSigned:
		return "SIGNED"
	case PhaseFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}
