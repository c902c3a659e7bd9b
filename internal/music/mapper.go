// Package music decodes presence payloads and picks the activity that
// describes what the user is currently listening to.
package music

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/genricoloni/synest-overlay/internal/domain"
)

const (
	// SpotifyService labels music taken from the dedicated listening block
	SpotifyService = "Spotify"

	unknownSong   = "Unknown Song"
	unknownArtist = "Unknown Artist"

	internalArtPrefix = "mp:external/"
	externalArtPrefix = "https://media.discordapp.net/external/"
)

// knownServices are the activity names accepted as music players
var knownServices = map[string]struct{}{
	"Deezer":        {},
	"Spotify":       {},
	"Apple Music":   {},
	"YouTube Music": {},
	"SoundCloud":    {},
}

// payload mirrors the relay's presence object, restricted to what we read
type payload struct {
	Spotify    *domain.SpotifyListening `json:"spotify"`
	Activities []domain.Activity        `json:"activities"`
}

// Decode turns a raw presence payload into a Snapshot variant.
// Empty, null or malformed payloads decode to SnapshotAbsent.
func Decode(raw []byte) domain.Snapshot {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return domain.Snapshot{Kind: domain.SnapshotAbsent}
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Snapshot{Kind: domain.SnapshotAbsent}
	}

	if p.Spotify != nil {
		return domain.Snapshot{Kind: domain.SnapshotPrimary, Primary: *p.Spotify}
	}

	return domain.Snapshot{Kind: domain.SnapshotActivities, Activities: p.Activities}
}

// Select returns the active music for a snapshot, or nil when nothing
// qualifies. The dedicated listening block always wins; otherwise the first
// listening activity from a known service is used.
func Select(s domain.Snapshot) *domain.MusicActivity {
	switch s.Kind {
	case domain.SnapshotPrimary:
		p := s.Primary
		return &domain.MusicActivity{
			Song:        p.Song,
			Artist:      p.Artist,
			Album:       p.Album,
			AlbumArtURL: p.AlbumArtURL,
			Timestamps:  p.Timestamps,
			Service:     SpotifyService,
		}
	case domain.SnapshotActivities:
		for _, a := range s.Activities {
			if IsMusic(a) {
				return fromActivity(a)
			}
		}
		return nil
	default:
		return nil
	}
}

// IsMusic reports whether an activity is listening on a known service
func IsMusic(a domain.Activity) bool {
	if a.Type != domain.ActivityListening {
		return false
	}
	_, ok := knownServices[a.Name]
	return ok
}

func fromActivity(a domain.Activity) *domain.MusicActivity {
	m := &domain.MusicActivity{
		Song:    a.Details,
		Artist:  a.State,
		Service: a.Name,
	}
	if m.Song == "" {
		m.Song = unknownSong
	}
	if m.Artist == "" {
		m.Artist = unknownArtist
	}
	if a.Assets != nil {
		m.Album = a.Assets.LargeText
		if a.Assets.LargeImage != "" {
			m.AlbumArtURL = RewriteArtURL(a.Assets.LargeImage)
		}
	}
	if a.Timestamps != nil {
		m.Timestamps = *a.Timestamps
	}
	return m
}

// RewriteArtURL maps the platform's internal media scheme to its public
// media host. Other values are returned unchanged.
func RewriteArtURL(image string) string {
	if rest, ok := strings.CutPrefix(image, internalArtPrefix); ok {
		return externalArtPrefix + rest
	}
	return image
}
