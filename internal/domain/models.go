package domain

// ActivityType is the platform's activity classification code
type ActivityType int

const (
	// ActivityPlaying is a game activity
	ActivityPlaying ActivityType = 0
	// ActivityStreaming is a live stream activity
	ActivityStreaming ActivityType = 1
	// ActivityListening is music or audio playback
	ActivityListening ActivityType = 2
	// ActivityWatching is video playback
	ActivityWatching ActivityType = 3
	// ActivityCustom is a custom status
	ActivityCustom ActivityType = 4
)

// Timestamps holds playback bounds in unix milliseconds.
// Either bound may be missing.
type Timestamps struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

// Span returns both bounds when the pair is complete
func (t Timestamps) Span() (start, end int64, ok bool) {
	if t.Start == nil || t.End == nil {
		return 0, 0, false
	}
	return *t.Start, *t.End, true
}

// Assets are the image/text attachments of an activity
type Assets struct {
	LargeText  string `json:"large_text,omitempty"`
	LargeImage string `json:"large_image,omitempty"`
}

// Activity is one generic activity record from the presence payload
type Activity struct {
	Type       ActivityType `json:"type"`
	Name       string       `json:"name"`
	Details    string       `json:"details,omitempty"`
	State      string       `json:"state,omitempty"`
	Assets     *Assets      `json:"assets,omitempty"`
	Timestamps *Timestamps  `json:"timestamps,omitempty"`
}

// SpotifyListening is the dedicated listening block the relay exposes
// when the user has a connected Spotify account playing
type SpotifyListening struct {
	TrackID     string     `json:"track_id"`
	Song        string     `json:"song"`
	Artist      string     `json:"artist"`
	Album       string     `json:"album"`
	AlbumArtURL string     `json:"album_art_url"`
	Timestamps  Timestamps `json:"timestamps"`
}

// SnapshotKind tags which variant a Snapshot holds
type SnapshotKind int

const (
	// SnapshotAbsent means no presence data is available
	SnapshotAbsent SnapshotKind = iota
	// SnapshotPrimary means the dedicated listening block is populated
	SnapshotPrimary
	// SnapshotActivities means only the generic activity list is available
	SnapshotActivities
)

// String returns a readable variant name for logging
func (k SnapshotKind) String() string {
	switch k {
	case SnapshotPrimary:
		return "primary"
	case SnapshotActivities:
		return "activities"
	default:
		return "absent"
	}
}

// Snapshot is a decoded presence payload.
// Exactly one of Primary/Activities is meaningful, selected by Kind.
type Snapshot struct {
	Kind       SnapshotKind
	Primary    SpotifyListening
	Activities []Activity
}

// MusicActivity is the display-ready record derived from a Snapshot
type MusicActivity struct {
	Song        string
	Artist      string
	Album       string
	AlbumArtURL string
	Timestamps  Timestamps
	Service     string
}

// Theme holds the colors extracted from the current album art.
// Background is a space separated "r g b" triple, Border a full CSS color.
type Theme struct {
	Background string
	Border     string
}

const (
	// DefaultBackgroundRGB is used until an extraction succeeds
	DefaultBackgroundRGB = "0 0 0"
	// DefaultBorderColor is used until an extraction succeeds
	DefaultBorderColor = "rgba(38 38 38 / 1)"
)

// DefaultTheme returns the theme shown before any color extraction
func DefaultTheme() Theme {
	return Theme{Background: DefaultBackgroundRGB, Border: DefaultBorderColor}
}

// State is what the overlay renders: the active track (nil when nothing
// is playing) and the current theme colors
type State struct {
	Music *MusicActivity
	Theme Theme
}
