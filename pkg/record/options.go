package record

import "time"

const (
	DefaultSegmentDuration = 1800 * time.Second
	DefaultCheckInterval   = 60 * time.Second
)

type Options struct {
	// Path is the record root; empty disables recording.
	Path            string
	SegmentDuration time.Duration
	// CheckInterval is how often the open segment's age is compared with
	// SegmentDuration.
	CheckInterval time.Duration
	Clock         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.SegmentDuration <= 0 {
		o.SegmentDuration = DefaultSegmentDuration
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = DefaultCheckInterval
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}
