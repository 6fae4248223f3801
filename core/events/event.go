package events

// Event represents a structured state change emitted by a settlement component.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. websocket feeds).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Record is the wire-friendly rendering of an event delivered to stream
// subscribers.
type Record struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Renderer is implemented by events that can flatten themselves into a Record.
type Renderer interface {
	Event() *Record
}

// Render converts evt into its wire form. Events without a renderer are
// reported with their type only.
func Render(evt Event) *Record {
	if evt == nil {
		return nil
	}
	if r, ok := evt.(Renderer); ok {
		if rec := r.Event(); rec != nil {
			return rec
		}
	}
	return &Record{Type: evt.EventType(), Attributes: map[string]string{}}
}

// MultiEmitter fans an event out to every non-nil emitter.
type MultiEmitter []Emitter

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
