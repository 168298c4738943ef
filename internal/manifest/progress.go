package manifest

// Phase tags a progress event.
type Phase string

const (
	PhaseScan     Phase = "scan"
	PhaseProcess  Phase = "process"
	PhaseGenerate Phase = "generate"
	PhaseUpload   Phase = "upload"
	PhaseError    Phase = "error"
)

// Event is one progress notification. Current is 1-based where it counts items.
type Event struct {
	Phase   Phase  `json:"phase"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// Sink receives events synchronously, in the order they happen. A nil Sink
// discards them.
type Sink func(Event)

func (s Sink) emit(phase Phase, current, total int, msg string) {
	if s == nil {
		return
	}
	s(Event{Phase: phase, Current: current, Total: total, Message: msg})
}

// Emit sends an event; callers outside the builder use it for upload steps.
func (s Sink) Emit(phase Phase, current, total int, msg string) { s.emit(phase, current, total, msg) }

// Recorder collects events, mostly for tests and CLI summaries.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Sink() Sink {
	return func(e Event) { r.Events = append(r.Events, e) }
}

// Phases returns the phase of every recorded event in order.
func (r *Recorder) Phases() []Phase {
	out := make([]Phase, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Phase
	}
	return out
}
