package extraction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stacklok/trello-extractor/internal/trello"
)

func TestFilterModifiedSince(t *testing.T) {
	t.Parallel()

	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	cards := []trello.Card{
		{ID: "before", DateLastActivity: "2024-05-31T23:59:59.999Z"},
		{ID: "equal", DateLastActivity: "2024-06-01T00:00:00.000Z"},
		{ID: "after", DateLastActivity: "2024-06-02T10:00:00.000Z"},
		{ID: "offset", DateLastActivity: "2024-06-01T01:30:00+02:00"},
		{ID: "missing"},
		{ID: "garbage", DateLastActivity: "yesterday"},
	}

	tests := []struct {
		name  string
		since *time.Time
		want  []string
	}{
		{
			name:  "nil watermark keeps everything",
			since: nil,
			want:  []string{"before", "equal", "after", "offset", "missing", "garbage"},
		},
		{
			// 01:30+02:00 is 23:30 UTC the day before, so a lexical
			// comparison would wrongly keep it
			name:  "keeps at or after watermark and drops unparseable",
			since: &since,
			want:  []string{"equal", "after"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got []string
			for _, c := range FilterModifiedSince(cards, tt.since) {
				got = append(got, c.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
