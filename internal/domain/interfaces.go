package domain

import (
	"context"
	"image"
	"image/color"
	"time"
)

// PresenceFeed defines the interface for a real-time presence subscription
// Implementations handle the relay protocol and reconnects
type PresenceFeed interface {
	// Start begins the subscription
	// It should block until context is cancelled or an error occurs
	Start(ctx context.Context) error

	// Stop gracefully stops the feed
	Stop(ctx context.Context) error

	// Events returns a read-only channel that emits decoded snapshots
	// whenever the user's presence changes
	Events() <-chan Snapshot
}

// Fetcher defines the interface for retrieving album artwork
type Fetcher interface {
	// Fetch downloads image data from a URL
	// Returns the raw image bytes or an error
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ColorExtractor defines the interface for deriving representative colors
// from album art bytes
type ColorExtractor interface {
	// Sample decodes and downscales the image once for both passes
	Sample(ctx context.Context, imageData []byte) (*image.NRGBA, error)

	// Average returns the mean color of the sample
	Average(ctx context.Context, img *image.NRGBA) (color.NRGBA, error)

	// Dominant returns the most frequent color of the sample
	Dominant(ctx context.Context, img *image.NRGBA) (color.NRGBA, error)
}

// BannerStore persists whether the migration notice was dismissed
type BannerStore interface {
	Dismissed() (bool, error)
	Dismiss() error
}

// StateSource is the read side of the engine consumed by the overlay
type StateSource interface {
	// Current returns the latest state
	Current() State

	// Subscribe returns a channel receiving every new state (latest first)
	// and a function releasing the subscription
	Subscribe() (<-chan State, func())
}

// Config defines the interface for application configuration
type Config interface {
	// GetUserID returns the snowflake of the user whose presence is shown
	GetUserID() string

	// GetSocketURL returns the presence relay websocket endpoint
	GetSocketURL() string

	// GetListenAddr returns the HTTP listen address of the overlay server
	GetListenAddr() string

	// GetThrottle returns the minimum spacing between applied snapshots
	GetThrottle() time.Duration

	// GetStateDir returns the directory holding persisted flags
	GetStateDir() string

	// GetColorEnabled reports whether album art colors are extracted at all
	GetColorEnabled() bool
}
