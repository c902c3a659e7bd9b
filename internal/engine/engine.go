package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/genricoloni/synest-overlay/internal/domain"
	"github.com/genricoloni/synest-overlay/internal/music"
	"github.com/genricoloni/synest-overlay/internal/processor"
	"go.uber.org/zap"
)

const borderAlpha = "40%"

// Engine turns presence snapshots into overlay state.
// It throttles the feed, picks the active music, extracts theme colors from
// the album art and fans the resulting state out to subscribers.
type Engine struct {
	logger  *zap.Logger
	cfg     domain.Config
	feed    domain.PresenceFeed
	fetcher domain.Fetcher
	colors  domain.ColorExtractor

	mu     sync.Mutex
	state  domain.State
	artURL string // album art the current theme extraction belongs to
	subs   map[int]chan domain.State
	nextID int

	cancel context.CancelFunc
	wg     sync.WaitGroup // loop and extraction goroutines
}

// NewEngine creates a new orchestration engine
func NewEngine(
	logger *zap.Logger,
	cfg domain.Config,
	feed domain.PresenceFeed,
	fetch domain.Fetcher,
	colors domain.ColorExtractor,
) *Engine {
	return &Engine{
		logger:  logger,
		cfg:     cfg,
		feed:    feed,
		fetcher: fetch,
		colors:  colors,
		state:   domain.State{Theme: domain.DefaultTheme()},
		subs:    make(map[int]chan domain.State),
	}
}

// Start launches the engine's event processing loop in a goroutine.
// It returns immediately (non-blocking).
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Engine starting...",
		zap.Duration("throttle", e.cfg.GetThrottle()),
		zap.Bool("color", e.cfg.GetColorEnabled()))

	loopCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runLoop(loopCtx)
	}()
	return nil
}

// Stop cancels the loop and any extraction in flight
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("Engine stopping...")

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("Engine stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine stop: %w", ctx.Err())
	}
}

// runLoop applies snapshots with throttling.
// The first snapshot after a quiet period is applied at once. Snapshots
// arriving inside the window are coalesced and the latest one is applied
// when the window closes.
func (e *Engine) runLoop(ctx context.Context) {
	events := e.feed.Events()
	window := e.cfg.GetThrottle()

	timer := time.NewTimer(window)
	timer.Stop()

	var pending *domain.Snapshot
	throttling := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			e.logger.Info("Engine loop stopped")
			return

		case snap, ok := <-events:
			if !ok {
				e.logger.Info("Presence events channel closed")
				return
			}
			if throttling {
				e.logger.Debug("Snapshot throttled", zap.Stringer("kind", snap.Kind))
				pending = &snap
				continue
			}
			e.apply(ctx, snap)
			if window > 0 {
				throttling = true
				timer.Reset(window)
			}

		case <-timer.C:
			if pending == nil {
				throttling = false
				continue
			}
			e.apply(ctx, *pending)
			pending = nil
			timer.Reset(window)
		}
	}
}

// apply maps one snapshot into the current state
func (e *Engine) apply(ctx context.Context, snap domain.Snapshot) {
	m := music.Select(snap)

	newURL := ""
	if m != nil {
		newURL = m.AlbumArtURL
	}

	e.mu.Lock()
	e.state.Music = m
	changed := newURL != e.artURL
	e.artURL = newURL
	e.publishLocked()
	e.mu.Unlock()

	if m == nil {
		e.logger.Debug("No music activity", zap.Stringer("kind", snap.Kind))
	} else {
		e.logger.Debug("Music activity applied",
			zap.String("service", m.Service),
			zap.String("song", m.Song),
			zap.String("artist", m.Artist))
	}

	if changed && newURL != "" && e.cfg.GetColorEnabled() {
		e.extract(ctx, newURL)
	}
}

// extract fetches and decodes the art once and runs both color passes
// independently on the sample.
// Results are tagged with the URL they were issued for and dropped when a
// newer album art has become current in the meantime.
func (e *Engine) extract(ctx context.Context, url string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		data, err := e.fetcher.Fetch(ctx, url)
		if err != nil {
			e.logger.Warn("Failed to fetch album art", zap.String("url", url), zap.Error(err))
			return
		}

		img, err := e.colors.Sample(ctx, data)
		if err != nil {
			e.logger.Warn("Failed to decode album art", zap.String("url", url), zap.Error(err))
			return
		}

		var passes sync.WaitGroup
		passes.Add(2)
		go func() {
			defer passes.Done()
			c, err := e.colors.Average(ctx, img)
			if err != nil {
				e.logger.Warn("Average color extraction failed", zap.String("url", url), zap.Error(err))
				return
			}
			e.setTheme(url, func(t *domain.Theme) {
				t.Background = processor.RGB(c)
			})
		}()
		go func() {
			defer passes.Done()
			c, err := e.colors.Dominant(ctx, img)
			if err != nil {
				e.logger.Warn("Dominant color extraction failed", zap.String("url", url), zap.Error(err))
				return
			}
			e.setTheme(url, func(t *domain.Theme) {
				t.Border = fmt.Sprintf("rgba(%s / %s)", processor.RGB(c), borderAlpha)
			})
		}()
		passes.Wait()
	}()
}

func (e *Engine) setTheme(url string, update func(*domain.Theme)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if url != e.artURL {
		e.logger.Debug("Discarding stale color result",
			zap.String("for", url),
			zap.String("current", e.artURL))
		return
	}

	update(&e.state.Theme)
	e.publishLocked()
}

// Current returns the latest state
func (e *Engine) Current() domain.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe registers a listener. The current state is delivered first.
// Slow listeners only ever see the most recent state.
func (e *Engine) Subscribe() (<-chan domain.State, func()) {
	ch := make(chan domain.State, 1)

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	ch <- e.state
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
			close(ch)
		})
	}
}

// publishLocked hands the state to every subscriber, replacing any state
// they have not consumed yet. Caller holds e.mu.
func (e *Engine) publishLocked() {
	for _, ch := range e.subs {
		select {
		case ch <- e.state:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- e.state:
		default:
		}
	}
}
