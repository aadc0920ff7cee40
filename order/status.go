package order

// Status is the canonical lifecycle state of an order. Orders are never
// deleted; they only move forward through this graph until a terminal state.
type Status string

const (
	StatusCreated         Status = "created"
	StatusWindowConfirmed Status = "window_confirmed"
	StatusInTransit       Status = "in_transit"
	StatusDelivered       Status = "delivered"
	StatusCompleted       Status = "completed"
	StatusDisputed        Status = "disputed"
)

// transitions is the directed graph of legal moves. window_confirmed is
// optional: negotiable orders dispatch straight from created.
var transitions = map[Status][]Status{
	StatusCreated:         {StatusWindowConfirmed, StatusInTransit},
	StatusWindowConfirmed: {StatusInTransit},
	StatusInTransit:       {StatusDelivered},
	StatusDelivered:       {StatusCompleted, StatusDisputed},
	StatusCompleted:       {},
	StatusDisputed:        {},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDisputed
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}
