package eyes

import "time"

// WindowStats summarises the loop over one statistics window.
type WindowStats struct {
	Start           time.Time
	End             time.Time
	Ticks           int64
	SessionsWritten int64
	SessionsDropped int64
	PanelsSkipped   int64
	BytesWritten    int64
	MaxTick         time.Duration
	MeanTick        time.Duration
}

type windowAccumulator struct {
	start time.Time
	stats WindowStats
	total time.Duration
}

func (w *windowAccumulator) reset(at time.Time) {
	*w = windowAccumulator{start: at}
}

func (w *windowAccumulator) add(r TickResult, took time.Duration) {
	s := &w.stats
	s.Ticks++
	if r.Written {
		s.SessionsWritten++
		s.BytesWritten += int64(r.Bytes)
	} else {
		s.SessionsDropped++
	}
	s.PanelsSkipped += int64(r.Skipped)
	if took > s.MaxTick {
		s.MaxTick = took
	}
	w.total += took
}

func (w *windowAccumulator) close(at time.Time) WindowStats {
	s := w.stats
	s.Start = w.start
	s.End = at
	if s.Ticks > 0 {
		s.MeanTick = w.total / time.Duration(s.Ticks)
	}
	return s
}
