package scheduler

import "go.uber.org/atomic"

// Stats counts what happened to every frame offered to the scheduler.
type Stats struct {
	Received      atomic.Int64
	Admitted      atomic.Int64
	Submitted     atomic.Int64
	NotReady      atomic.Int64
	TooSoon       atomic.Int64
	Busy          atomic.Int64
	ConvertFailed atomic.Int64
	Rejected      atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Received      int64 `json:"received"`
	Admitted      int64 `json:"admitted"`
	Submitted     int64 `json:"submitted"`
	NotReady      int64 `json:"notReady"`
	TooSoon       int64 `json:"tooSoon"`
	Busy          int64 `json:"busy"`
	ConvertFailed int64 `json:"convertFailed"`
	Rejected      int64 `json:"rejected"`
}

// Dropped returns the number of frames that never reached the detector.
func (s StatsSnapshot) Dropped() int64 {
	return s.NotReady + s.TooSoon + s.Busy + s.ConvertFailed + s.Rejected
}

func (s *Stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		Received:      s.Received.Load(),
		Admitted:      s.Admitted.Load(),
		Submitted:     s.Submitted.Load(),
		NotReady:      s.NotReady.Load(),
		TooSoon:       s.TooSoon.Load(),
		Busy:          s.Busy.Load(),
		ConvertFailed: s.ConvertFailed.Load(),
		Rejected:      s.Rejected.Load(),
	}
}
