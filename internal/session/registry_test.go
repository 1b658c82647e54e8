package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/walletbridge-go/internal/errors"
	"github.com/openclaw/walletbridge-go/internal/model"
)

func newTestRegistry(idleWindow, sweepInterval time.Duration) *Registry {
	return NewRegistry(idleWindow, sweepInterval)
}

func TestRegistryCreate(t *testing.T) {
	t.Run("at most one session per user after rapid creates", func(t *testing.T) {
		r := newTestRegistry(30*time.Minute, time.Hour)
		ctx := context.Background()

		var last *model.Session
		for i := 0; i < 10; i++ {
			last = r.Create(ctx, "user-3")
		}

		assert.Equal(t, 1, r.SessionCount())
		s, ok := r.Get("user-3")
		require.True(t, ok)
		assert.Equal(t, last.ID, s.ID, "the last create wins as the authoritative session")
	})

	t.Run("sessions for different users coexist", func(t *testing.T) {
		r := newTestRegistry(30*time.Minute, time.Hour)
		ctx := context.Background()

		r.Create(ctx, "user-1")
		r.Create(ctx, "user-2")

		assert.Equal(t, 2, r.SessionCount())
	})
}

func TestRegistryCheckConnection(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		r := newTestRegistry(30*time.Minute, time.Hour)

		status := r.CheckConnection("nobody")
		assert.False(t, status.Connected)
		assert.Equal(t, ReasonNoSession, status.Reason)
	})

	t.Run("idle session expires lazily on access", func(t *testing.T) {
		r := newTestRegistry(30*time.Millisecond, time.Hour)
		r.Create(context.Background(), "user-1")

		time.Sleep(60 * time.Millisecond)

		status := r.CheckConnection("user-1")
		assert.False(t, status.Connected)
		assert.Equal(t, ReasonSessionTimeout, status.Reason)
		assert.Equal(t, 0, r.SessionCount(), "expired session is purged")
	})

	t.Run("live unconnected session reports its id", func(t *testing.T) {
		r := newTestRegistry(30*time.Minute, time.Hour)
		s := r.Create(context.Background(), "user-1")

		status := r.CheckConnection("user-1")
		assert.False(t, status.Connected)
		assert.Equal(t, s.ID, status.SessionID)
		assert.Empty(t, status.Reason)
	})

	t.Run("connected session reports address and chain", func(t *testing.T) {
		r := newTestRegistry(30*time.Minute, time.Hour)
		s := r.Create(context.Background(), "user-1")

		first, ok := r.MarkConnected(s.ID, "0xAAA", 97)
		require.True(t, ok)
		require.True(t, first)

		status := r.CheckConnection("user-1")
		assert.True(t, status.Connected)
		assert.Equal(t, "0xAAA", status.Address)
		assert.Equal(t, int64(97), status.ChainID)
	})
}

func TestRegistrySweep(t *testing.T) {
	r := newTestRegistry(30*time.Millisecond, 20*time.Millisecond)
	r.Start()
	defer r.Shutdown()

	r.Create(context.Background(), "user-1")
	require.Equal(t, 1, r.SessionCount())

	// No access at all; the sweeper alone must purge the idle session.
	require.Eventually(t, func() bool {
		return r.SessionCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestRegistryMarkConnected(t *testing.T) {
	t.Run("first caller wins the notification guard", func(t *testing.T) {
		r := newTestRegistry(30*time.Minute, time.Hour)
		s := r.Create(context.Background(), "user-1")

		first, ok := r.MarkConnected(s.ID, "0xAAA", 97)
		assert.True(t, ok)
		assert.True(t, first)

		first, ok = r.MarkConnected(s.ID, "0xAAA", 97)
		assert.True(t, ok)
		assert.False(t, first, "notification guard is one-shot")
	})

	t.Run("removed session discards the mark", func(t *testing.T) {
		r := newTestRegistry(30*time.Minute, time.Hour)
		s := r.Create(context.Background(), "user-1")
		r.Remove(s.ID)

		_, ok := r.MarkConnected(s.ID, "0xAAA", 97)
		assert.False(t, ok)
	})
}

func TestRegistryRemove(t *testing.T) {
	t.Run("removes session, index and pending transaction", func(t *testing.T) {
		r := newTestRegistry(30*time.Minute, time.Hour)
		s := r.Create(context.Background(), "user-1")

		require.NoError(t, r.PutPending(s.ID, &model.PendingTransaction{
			ID: "tx-1", SessionID: s.ID, Status: model.TxStatusPending,
		}))

		r.Remove(s.ID)

		_, ok := r.Get("user-1")
		assert.False(t, ok)
		_, ok = r.GetPending(s.ID)
		assert.False(t, ok)
		assert.Equal(t, ReasonNoSession, r.CheckConnection("user-1").Reason)
	})

	t.Run("idempotent", func(t *testing.T) {
		r := newTestRegistry(30*time.Minute, time.Hour)
		s := r.Create(context.Background(), "user-1")

		r.Remove(s.ID)
		r.Remove(s.ID)

		assert.Equal(t, 0, r.SessionCount())
	})
}

func TestRegistryPending(t *testing.T) {
	t.Run("second pending transaction is rejected", func(t *testing.T) {
		r := newTestRegistry(30*time.Minute, time.Hour)
		s := r.Create(context.Background(), "user-1")

		require.NoError(t, r.PutPending(s.ID, &model.PendingTransaction{
			ID: "tx-1", SessionID: s.ID, Status: model.TxStatusPending,
		}))

		err := r.PutPending(s.ID, &model.PendingTransaction{
			ID: "tx-2", SessionID: s.ID, Status: model.TxStatusPending,
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeTransactionInProgress, apperrors.GetCode(err))
	})

	t.Run("settled pending transaction can be replaced", func(t *testing.T) {
		r := newTestRegistry(30*time.Minute, time.Hour)
		s := r.Create(context.Background(), "user-1")

		require.NoError(t, r.PutPending(s.ID, &model.PendingTransaction{
			ID: "tx-1", SessionID: s.ID, Status: model.TxStatusPending,
		}))
		require.True(t, r.CompletePending(s.ID, "tx-1", model.TxStatusSent, "0xhash", ""))

		assert.NoError(t, r.PutPending(s.ID, &model.PendingTransaction{
			ID: "tx-2", SessionID: s.ID, Status: model.TxStatusPending,
		}))
	})

	t.Run("stale completion is discarded", func(t *testing.T) {
		r := newTestRegistry(30*time.Minute, time.Hour)
		s := r.Create(context.Background(), "user-1")

		require.NoError(t, r.PutPending(s.ID, &model.PendingTransaction{
			ID: "tx-1", SessionID: s.ID, Status: model.TxStatusPending,
		}))

		assert.False(t, r.CompletePending(s.ID, "tx-other", model.TxStatusSent, "0xhash", ""),
			"completion for a different tx id must not apply")

		require.True(t, r.CompletePending(s.ID, "tx-1", model.TxStatusFailed, "", "timed out"))
		assert.False(t, r.CompletePending(s.ID, "tx-1", model.TxStatusSent, "0xhash", ""),
			"late completion must not overwrite a settled record")

		ptx, ok := r.GetPending(s.ID)
		require.True(t, ok)
		assert.Equal(t, model.TxStatusFailed, ptx.Status)
		assert.Empty(t, ptx.TxHash)
	})
}
