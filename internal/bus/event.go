package bus

import "time"

// Event represents a domain event published on the bus. Kind is a
// dot-separated name ("remote.snapshot", "view.updated", "outbox.sent")
// whose prefix doubles as the subscription namespace.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
