package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateFor(t *testing.T) {
	q := &Quota{SoftLimit: 3, HardLimit: 5}

	tests := []struct {
		usage int64
		want  State
	}{
		{0, StateOK},
		{3, StateOK},
		{4, StateSoftLimitExceeded},
		{5, StateSoftLimitExceeded},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, q.StateFor(tt.usage), "usage=%d", tt.usage)
	}
}

func TestFits(t *testing.T) {
	q := &Quota{SoftLimit: 3, HardLimit: 3, Usage: 2}
	assert.True(t, q.Fits(0))
	assert.True(t, q.Fits(1))
	assert.False(t, q.Fits(2))
	assert.Equal(t, int64(1), q.Remaining())

	q.Usage = 4
	assert.Equal(t, int64(0), q.Remaining())
}

func TestRelease(t *testing.T) {
	q := &Quota{HardLimit: 10, Usage: 3}

	assert.Equal(t, int64(2), q.Release(2))
	assert.Equal(t, int64(1), q.Usage)

	assert.Equal(t, int64(1), q.Release(5))
	assert.Equal(t, int64(0), q.Usage)

	assert.Equal(t, int64(0), q.Release(1))
	assert.Equal(t, int64(0), q.Usage)
}
