package aggregate

// Event is a notification emitted by the engines.
type Event int

const (
	// EventAggregationUpdated follows every full rebuild.
	EventAggregationUpdated Event = iota
	// EventSelectionUpdated means selection summaries must be pulled again.
	EventSelectionUpdated
	// EventDirty asks the draw step to redraw; geometry is resynchronized when the store is dirty.
	EventDirty
)

func (e Event) String() string {
	switch e {
	case EventAggregationUpdated:
		return "aggregation_updated"
	case EventSelectionUpdated:
		return "selection_updated"
	case EventDirty:
		return "updated"
	}
	return "unknown"
}

type subscriber struct {
	id int
	fn func(Event)
}

type bus struct {
	nextID int
	subs   []subscriber
}

func (b *bus) subscribe(fn func(Event)) func() {
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	return func() {
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// emit calls subscribers in registration order. Subscribers added during emission are not
// called for the current event.
func (b *bus) emit(events ...Event) {
	subs := append([]subscriber(nil), b.subs...)
	for _, ev := range events {
		for _, s := range subs {
			s.fn(ev)
		}
	}
}
