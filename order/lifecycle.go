package order

import "time"

// edges lists the permitted status transitions. created moves to paid or
// failed on a payment and to canceled on operator action; paid moves to
// refunded on operator action. failed, canceled and refunded are terminal.
var edges = map[Status][]Status{
	StatusCreated: {StatusPaid, StatusFailed, StatusCanceled},
	StatusPaid:    {StatusRefunded},
}

// CanTransition reports whether the lifecycle permits from -> to.
func CanTransition(from, to Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func Terminal(s Status) bool {
	return len(edges[s]) == 0
}

// Advance moves the order to status to and appends the transition
// timestamp. It returns false and leaves the order unchanged when the edge
// is not permitted. An existing timestamp for to is never overwritten.
func (o *Order) Advance(to Status, at time.Time) bool {
	if !CanTransition(o.Status, to) {
		return false
	}
	if o.StatusTransitions == nil {
		o.StatusTransitions = make(map[Status]time.Time)
	}
	if _, seen := o.StatusTransitions[to]; !seen {
		o.StatusTransitions[to] = at.UTC()
	}
	o.Status = to
	return true
}
