package thread

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siamak-p/dealdesk/internal/store"
)

func TestSweeper_ExpiresStaleThreads(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	created, err := svc.CreateThread(ctx, "sender-1", "creator-1", "conv-1", "loan", "lend me 500?")
	require.NoError(t, err)

	// Zero idle age makes every open thread stale immediately
	sweeper := NewSweeper(svc, 10*time.Millisecond, 0, nil)
	sweeper.Start()
	defer sweeper.Stop()

	require.Eventually(t, func() bool {
		current, err := svc.GetThread(ctx, created.ID)
		if err != nil {
			return false
		}
		return current.Status == store.ThreadStatusExpired
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweeper_StartStopIdempotent(t *testing.T) {
	svc := setupTestService(t)

	sweeper := NewSweeper(svc, 10*time.Millisecond, time.Hour, nil)
	sweeper.Start()
	sweeper.Start()
	sweeper.Stop()
	sweeper.Stop()

	assert.NotPanics(t, func() {
		sweeper.Start()
		sweeper.Stop()
	})
}
