package pipeline

// Event represents a driver lifecycle event.
// Minimal and stable: name + sequence id and optional fields via key/values.
type Event struct {
	Name   string
	Seq    int
	Fields map[string]any
}

// EventPublisher receives events from the driver. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
