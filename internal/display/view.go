package display

import (
	"strconv"
	"time"

	"github.com/genricoloni/synest-overlay/internal/domain"
)

// View is everything a renderer needs to draw one frame
type View struct {
	// Empty means nothing is playing and an empty frame is drawn
	Empty bool
	// Key changes whenever the track changes so the client can fade
	Key string

	Song        string
	Artist      string
	AlbumArtURL string
	Service     string

	// Text is set in text mode and holds the whole line
	Text string

	// HasProgress is true when both timestamps are known
	HasProgress bool
	Progress    float64

	Background   string
	Border       string
	BorderWidth  int
	CardRadius   string
	ArtRadius    string
	TextMode     bool
	ColorEnabled bool
}

// Progress returns the elapsed share of a track as a percentage.
// Values are not clamped: a clock past end yields more than 100.
func Progress(start, end, now int64) float64 {
	total := end - start
	if total == 0 {
		return 0
	}
	return 100 - (100*float64(end-now))/float64(total)
}

// TextLine joins song and artist for text mode
func TextLine(song, artist string, flip bool) string {
	if flip {
		return artist + " - " + song
	}
	return song + " - " + artist
}

// Build derives the view for the given state at the given instant
func Build(state domain.State, opts Options, now time.Time) View {
	m := state.Music
	if m == nil {
		return View{Empty: true, Key: "null"}
	}

	artist := opts.ArtistLine(m.Artist)
	radius := opts.Radius()

	v := View{
		Key:          trackKey(m),
		Song:         m.Song,
		Artist:       artist,
		AlbumArtURL:  m.AlbumArtURL,
		Service:      m.Service,
		TextMode:     opts.Text,
		ColorEnabled: opts.Color,
		Background:   opts.BackgroundColor(domain.DefaultBackgroundRGB),
		Border:       domain.DefaultBorderColor,
		BorderWidth:  opts.BorderWidth(),
		CardRadius:   radius.Card,
		ArtRadius:    radius.Art,
	}

	if opts.Text {
		v.Text = TextLine(m.Song, artist, opts.Flip)
		return v
	}

	if opts.Color {
		if state.Theme.Background != "" {
			v.Background = opts.BackgroundColor(state.Theme.Background)
		}
		if state.Theme.Border != "" {
			v.Border = state.Theme.Border
		}
	}

	if start, end, ok := m.Timestamps.Span(); ok && start != 0 && end != 0 {
		v.HasProgress = true
		v.Progress = Progress(start, end, now.UnixMilli())
	}

	return v
}

func trackKey(m *domain.MusicActivity) string {
	key := m.Service + "|" + m.Song + "|" + m.Artist + "|" + m.AlbumArtURL
	if m.Timestamps.Start != nil {
		key += "|" + strconv.FormatInt(*m.Timestamps.Start, 10)
	}
	return key
}
