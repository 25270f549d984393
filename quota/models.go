// Package quota models numeric soft/hard limits held by a subject for a
// feature, and the usage journal recording every change to them.
package quota

import (
	"time"

	"github.com/DataONEorg/bookkeeper/id"
	"github.com/DataONEorg/bookkeeper/types"
)

// ObjectType is the object tag carried by every Quota.
const ObjectType = "quota"

// State describes where usage sits relative to the soft limit.
type State string

const (
	StateOK                State = "ok"
	StateSoftLimitExceeded State = "softLimitExceeded"
)

type Quota struct {
	types.Entity
	ID        int64  `json:"id"`
	Object    string `json:"object"`
	QuotaType string `json:"quotaType"`
	Feature   string `json:"feature"`
	SoftLimit int64  `json:"softLimit"`
	HardLimit int64  `json:"hardLimit"`
	Usage     int64  `json:"usage"`
	Unit      string `json:"unit,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Name      string `json:"name,omitempty"`
}

// StateFor returns the state of a quota at the given usage.
func (q *Quota) StateFor(usage int64) State {
	if usage <= q.SoftLimit {
		return StateOK
	}
	return StateSoftLimitExceeded
}

// State returns the state at the current usage.
func (q *Quota) State() State {
	return q.StateFor(q.Usage)
}

// Fits reports whether adding delta keeps usage within the hard limit.
func (q *Quota) Fits(delta int64) bool {
	return delta <= q.HardLimit-q.Usage
}

// Remaining returns the headroom left below the hard limit.
func (q *Quota) Remaining() int64 {
	if r := q.HardLimit - q.Usage; r > 0 {
		return r
	}
	return 0
}

// Release subtracts delta from usage, clamped at zero, and returns the
// amount actually released.
func (q *Quota) Release(delta int64) int64 {
	if delta > q.Usage {
		delta = q.Usage
	}
	q.Usage -= delta
	return delta
}

// Reservation is the outcome of a successful usage change.
type Reservation struct {
	Quota *Quota `json:"quota"`
	Usage int64  `json:"usage"`
	State State  `json:"state"`
}

// UsageEvent journals one applied usage change. Delta is positive for a
// reservation and negative for a release, and reflects the clamped amount.
type UsageEvent struct {
	ID         id.UsageEventID `json:"id"`
	QuotaID    int64           `json:"quota_id"`
	Subject    string          `json:"subject"`
	Feature    string          `json:"feature"`
	Delta      int64           `json:"delta"`
	UsageAfter int64           `json:"usage_after"`
	State      State           `json:"state"`
	Reference  string          `json:"reference,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}
