package outbox

import "context"

// Event is a named fulfillment milestone.
type Event interface {
	EventName() string
}

// Keyed events name the aggregate they belong to. Brokers that partition
// use it so one order's events keep their order.
type Keyed interface {
	Event
	AggregateID() string
}

type Handler func(ctx context.Context, e Event) error

// Publisher never blocks on handlers; delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Subscriber interface {
	Subscribe(eventName string, h Handler)
}

// AggregateID returns the aggregate id of a Keyed event and "" otherwise.
func AggregateID(e Event) string {
	if k, ok := e.(Keyed); ok {
		return k.AggregateID()
	}
	return ""
}
