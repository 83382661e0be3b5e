package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsPhaseDone(t *testing.T) {
	t.Parallel()

	s := State{
		Users:       UsersState{Completed: true},
		Labels:      LabelsState{Completed: true},
		Cards:       CardsState{Completed: false},
		Attachments: AttachmentsState{Completed: true},
	}

	assert.True(t, s.IsPhaseDone(EntityUsers))
	assert.True(t, s.IsPhaseDone(EntityLabels))
	assert.False(t, s.IsPhaseDone(EntityCards))
	assert.True(t, s.IsPhaseDone(EntityAttachments))
	assert.False(t, s.IsPhaseDone(Entity("boards")))
}

func TestApply(t *testing.T) {
	t.Parallel()

	started := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	base := State{
		Users: UsersState{Completed: true},
		Run:   Run{ID: "r1", StartedAt: &started},
	}

	tests := []struct {
		name   string
		update Update
		check  func(t *testing.T, got State)
	}{
		{
			name:   "empty update keeps everything",
			update: Update{},
			check: func(t *testing.T, got State) {
				t.Helper()
				assert.Equal(t, base, got)
			},
		},
		{
			name:   "replaces attachments only",
			update: Update{Attachments: &AttachmentsState{Completed: true}},
			check: func(t *testing.T, got State) {
				t.Helper()
				assert.True(t, got.Users.Completed)
				assert.True(t, got.Attachments.Completed)
				assert.Equal(t, "r1", got.Run.ID)
			},
		},
		{
			name:   "replaces labels only",
			update: Update{Labels: &LabelsState{Completed: true}},
			check: func(t *testing.T, got State) {
				t.Helper()
				assert.True(t, got.Labels.Completed)
				assert.True(t, got.Users.Completed)
				assert.False(t, got.Cards.Completed)
			},
		},
		{
			name:   "sets watermark",
			update: Update{LastSuccessfulSyncStarted: &started},
			check: func(t *testing.T, got State) {
				t.Helper()
				assert.Equal(t, started, *got.LastSuccessfulSyncStarted)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.check(t, base.Apply(tt.update))
		})
	}
}

func TestApplyDoesNotAliasUpdate(t *testing.T) {
	t.Parallel()

	cursor := "c1"
	u := Update{Cards: &CardsState{Cursor: &cursor}}
	got := State{}.Apply(u)

	cursor = "changed"
	assert.Equal(t, "c1", *got.Cards.Cursor)
}
