package overlay

import (
	"time"

	"github.com/genricoloni/synest-overlay/internal/domain"
)

// track owns the progress ticker of one socket. The ticker lives exactly as
// long as the same start/end pair is playing.
type track struct {
	start, end int64
	ticker     *time.Ticker
}

// follow returns the ticker to use for m. A nil track is valid and means no
// ticker is running.
func (t *track) follow(m *domain.MusicActivity, every time.Duration) *track {
	var (
		start, end int64
		ok         bool
	)
	if m != nil {
		start, end, ok = m.Timestamps.Span()
	}
	if !ok || start == 0 || end == 0 {
		t.stop()
		return nil
	}

	if t != nil && t.start == start && t.end == end {
		return t
	}

	t.stop()
	return &track{start: start, end: end, ticker: time.NewTicker(every)}
}

func (t *track) C() <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.ticker.C
}

func (t *track) stop() {
	if t != nil {
		t.ticker.Stop()
	}
}
