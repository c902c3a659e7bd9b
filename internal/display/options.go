// Package display turns the active music and URL options into what the
// overlay draws.
package display

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	defaultOpacity      = "60"
	defaultRadiusKey    = "50"
	defaultBorderWidth  = 2
	artistSeparator     = ";"
	artistDisplayJoiner = ", "
)

// Radius is a border radius preset: the card and the album art corners
type Radius struct {
	Card string
	Art  string
}

var radiusPresets = map[string]Radius{
	"0":   {Card: "0px", Art: "0px"},
	"25":  {Card: "12px", Art: "8px"},
	"50":  {Card: "18px", Art: "12px"},
	"75":  {Card: "24px", Art: "16px"},
	"100": {Card: "9999px", Art: "9999px"},
}

// Options are the presentation switches read from the overlay URL
type Options struct {
	// Color enables background/border extraction from album art
	Color bool
	// Text renders a single line instead of the card
	Text bool
	// Flip puts the artist before the song in text mode
	Flip bool
	// Truncate keeps only the first artist
	Truncate bool
	// Opacity is the background alpha percentage, kept verbatim
	Opacity string
	// RadiusKey selects a border radius preset
	RadiusKey string
	// NoBorder hides the card border
	NoBorder bool
}

// ParseOptions reads the overlay options from query parameters.
// Long and short names are both accepted where the overlay historically did.
func ParseOptions(q url.Values) Options {
	o := Options{
		Color:     q.Get("color") == "true" || q.Get("c") == "t",
		Text:      q.Get("type") == "text" || q.Get("t") == "text",
		Flip:      q.Get("f") == "t",
		Truncate:  q.Get("tr") == "t",
		Opacity:   opacity(firstNonEmpty(q.Get("opacity"), q.Get("o"))),
		RadiusKey: firstNonEmpty(q.Get("br"), defaultRadiusKey),
		NoBorder:  q.Get("b") == "f",
	}
	return o
}

// Encode renders the options back into a query string so the push socket
// can be opened with the same presentation
func (o Options) Encode() string {
	q := url.Values{}
	if o.Color {
		q.Set("c", "t")
	}
	if o.Text {
		q.Set("t", "text")
	}
	if o.Flip {
		q.Set("f", "t")
	}
	if o.Truncate {
		q.Set("tr", "t")
	}
	if o.Opacity != defaultOpacity && o.Opacity != "" {
		q.Set("o", o.Opacity)
	}
	if o.RadiusKey != defaultRadiusKey && o.RadiusKey != "" {
		q.Set("br", o.RadiusKey)
	}
	if o.NoBorder {
		q.Set("b", "f")
	}
	return q.Encode()
}

// ArtistLine formats a semicolon joined artist list for display
func (o Options) ArtistLine(artist string) string {
	if o.Truncate {
		first, _, _ := strings.Cut(artist, artistSeparator)
		return first
	}
	return strings.ReplaceAll(artist, artistSeparator, artistDisplayJoiner)
}

// Radius resolves the border radius preset
func (o Options) Radius() Radius {
	return BorderRadius(o.RadiusKey)
}

// BorderWidth returns the card border width in pixels
func (o Options) BorderWidth() int {
	if o.NoBorder {
		return 0
	}
	return defaultBorderWidth
}

// BackgroundColor combines an "r g b" triple with the configured opacity
func (o Options) BackgroundColor(rgb string) string {
	return fmt.Sprintf("rgba(%s / %s%%)", rgb, o.Opacity)
}

// BorderRadius looks up a preset by key. Unknown keys use the 50 preset.
func BorderRadius(key string) Radius {
	if r, ok := radiusPresets[key]; ok {
		return r
	}
	return radiusPresets[defaultRadiusKey]
}

// opacity keeps numeric values only since the value lands in inline CSS
func opacity(v string) string {
	if _, err := strconv.ParseFloat(v, 64); err != nil {
		return defaultOpacity
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
