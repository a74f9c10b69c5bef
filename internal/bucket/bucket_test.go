package bucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ms(hour, min, sec, msec int) int64 {
	return time.Date(2024, 3, 14, hour, min, sec, msec*int(time.Millisecond), time.UTC).UnixMilli()
}

func TestFloor(t *testing.T) {
	tests := []struct {
		name     string
		ts       int64
		interval int
		want     int64
	}{
		{"mid bucket", ms(12, 7, 33, 500), 5, ms(12, 5, 0, 0)},
		{"exact boundary", ms(12, 5, 0, 0), 5, ms(12, 5, 0, 0)},
		{"boundary with seconds", ms(12, 10, 59, 999), 5, ms(12, 10, 0, 0)},
		{"one minute interval", ms(12, 7, 33, 500), 1, ms(12, 7, 0, 0)},
		{"fifteen minute interval", ms(12, 7, 33, 500), 15, ms(12, 0, 0, 0)},
		{"top of hour", ms(12, 0, 0, 1), 5, ms(12, 0, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Floor(tt.ts, tt.interval))
		})
	}
}

func TestFloorSameBucketCollapses(t *testing.T) {
	a := Floor(ms(12, 6, 1, 0), 5)
	b := Floor(ms(12, 9, 59, 999), 5)
	assert.Equal(t, a, b)

	c := Floor(ms(12, 10, 0, 0), 5)
	assert.NotEqual(t, a, c)
}
