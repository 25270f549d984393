package types

import "time"

// Entity carries the creation and modification timestamps shared by all
// persisted Bookkeeper rows.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity creates an Entity stamped with the current UTC time.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch updates UpdatedAt to t, or to now when t is zero.
func (e *Entity) Touch(t time.Time) {
	if t.IsZero() {
		t = time.Now()
	}
	e.UpdatedAt = t.UTC()
}

// Stamp fills zero timestamps with t. Used when a row is first stored.
func (e *Entity) Stamp(t time.Time) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.UTC()
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
}
