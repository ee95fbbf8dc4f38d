package rating

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/copilot"
	"github.com/Adithya-Monish-Kumar-K/copilot-search/internal/store/memory"
)

func TestDeltas(t *testing.T) {
	tests := []struct {
		prev, next            copilot.RatingType
		wantLike, wantDislike int64
	}{
		{copilot.RatingNone, copilot.RatingLike, 1, 0},
		{copilot.RatingNone, copilot.RatingDislike, 0, 1},
		{copilot.RatingLike, copilot.RatingDislike, -1, 1},
		{copilot.RatingDislike, copilot.RatingLike, 1, -1},
		{copilot.RatingLike, copilot.RatingNone, -1, 0},
		{copilot.RatingDislike, copilot.RatingNone, 0, -1},
		{copilot.RatingLike, copilot.RatingLike, 0, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.prev)+"->"+string(tt.next), func(t *testing.T) {
			like, dislike := Change{Prev: tt.prev, Next: tt.next}.Deltas()
			assert.Equal(t, tt.wantLike, like)
			assert.Equal(t, tt.wantDislike, dislike)
		})
	}
}

func TestRateTransitions(t *testing.T) {
	s := memory.New()
	svc := NewService(s)
	ctx := context.Background()

	ch, err := svc.Rate(ctx, copilot.KeyCopilot, "1", "u", copilot.RatingLike)
	require.NoError(t, err)
	assert.Equal(t, Change{Prev: copilot.RatingNone, Next: copilot.RatingLike}, ch)

	ch, err = svc.Rate(ctx, copilot.KeyCopilot, "1", "u", copilot.RatingLike)
	require.NoError(t, err)
	assert.True(t, ch.Unchanged())

	ch, err = svc.Rate(ctx, copilot.KeyCopilot, "1", "u", copilot.RatingDislike)
	require.NoError(t, err)
	assert.Equal(t, copilot.RatingLike, ch.Prev)

	own, err := svc.Own(ctx, 1, "u")
	require.NoError(t, err)
	assert.Equal(t, copilot.RatingDislike, own)

	own, err = svc.Own(ctx, 1, "someone-else")
	require.NoError(t, err)
	assert.Equal(t, copilot.RatingNone, own)
}

func TestKindsAreIndependent(t *testing.T) {
	s := memory.New()
	svc := NewService(s)
	ctx := context.Background()
	_, err := svc.Rate(ctx, copilot.KeyComment, "1", "u", copilot.RatingLike)
	require.NoError(t, err)
	own, err := svc.Own(ctx, 1, "u")
	require.NoError(t, err)
	assert.Equal(t, copilot.RatingNone, own)
}
