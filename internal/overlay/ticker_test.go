package overlay

import (
	"testing"
	"time"

	"github.com/genricoloni/synest-overlay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timed(start, end int64) *domain.MusicActivity {
	return &domain.MusicActivity{Song: "Song", Timestamps: domain.Timestamps{Start: &start, End: &end}}
}

func TestTrack_Follow(t *testing.T) {
	var tr *track
	assert.Nil(t, tr.C(), "nil track has no channel")

	tr = tr.follow(timed(1000, 2000), time.Hour)
	require.NotNil(t, tr)
	first := tr

	// Same span keeps the ticker running
	tr = tr.follow(timed(1000, 2000), time.Hour)
	assert.Same(t, first, tr)

	// New span replaces it
	tr = tr.follow(timed(2000, 3000), time.Hour)
	assert.NotSame(t, first, tr)

	// Untimed or absent music stops it
	start := int64(1000)
	assert.Nil(t, tr.follow(&domain.MusicActivity{Timestamps: domain.Timestamps{Start: &start}}, time.Hour))
	assert.Nil(t, (*track)(nil).follow(nil, time.Hour))
	assert.Nil(t, (*track)(nil).follow(timed(0, 2000), time.Hour))
}
