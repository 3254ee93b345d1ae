package types

import "time"

// Publish describes one reading accepted by the cloud endpoint.
type Publish struct {
	Sequence  int
	Timestamp time.Time
	Value     float64
	Status    int
	// EntryID is the id assigned by the endpoint, 0 when it did not report one.
	EntryID  int64
	Duration time.Duration
}
