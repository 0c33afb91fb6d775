package coordinator

// Phase is the processing lifecycle of one chapter, modeled as an explicit
// exhaustive variant instead of ad hoc boolean flags.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseProcessing
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseProcessing:
		return "processing"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the per-chapter processing state exposed to the reading surface.
// It is a value: readers get a snapshot, never shared mutable state.
type State struct {
	Phase     Phase  `json:"phase"`
	LastError string `json:"last_error,omitempty"`
}

// IsProcessingInsights reports whether an analysis run is active.
func (s State) IsProcessingInsights() bool {
	return s.Phase == PhaseProcessing
}
