package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/walletbridge-go/internal/errors"
	"github.com/openclaw/walletbridge-go/internal/model"
	"github.com/openclaw/walletbridge-go/internal/walletconnect"
)

const testTxHash = "0xabababababababababababababababababababababababababababababababab"

func newTestRelay(t *testing.T, client walletconnect.Client, timeout time.Duration) (*Registry, *Negotiator, *Relay) {
	t.Helper()

	registry, _, negotiator := newTestNegotiator(t, client)
	relay := NewRelay(registry, negotiator, nil, testChainID, "0x55730", "0x2540be400", timeout)
	return registry, negotiator, relay
}

// connectUser establishes an approved protocol-backed session for userID.
func connectUser(t *testing.T, client *fakeClient, n *Negotiator, userID string) string {
	t.Helper()

	result, err := n.CreateSession(context.Background(), userID)
	require.NoError(t, err)

	client.approve(0, walletconnect.Approval{
		Accounts: []string{"eip155:97:0xAAA"},
		ChainID:  testChainID,
	})

	require.Eventually(t, func() bool {
		return n.CheckConnection(context.Background(), userID).Connected
	}, time.Second, 5*time.Millisecond)

	return result.SessionID
}

func TestSendSuccess(t *testing.T) {
	client := newFakeClient()

	var captured model.TxRequest
	var mu sync.Mutex
	client.setRequestFn(func(topic, method string, params any) (json.RawMessage, error) {
		if method == "eth_sendTransaction" {
			mu.Lock()
			captured = params.([]model.TxRequest)[0]
			mu.Unlock()
			return json.RawMessage(`"` + testTxHash + `"`), nil
		}
		return json.RawMessage(`"0x61"`), nil
	})

	registry, n, relay := newTestRelay(t, client, time.Second)
	sessionID := connectUser(t, client, n, "user-1")

	result, err := relay.Send(context.Background(), "user-1", TxPayload{
		To:    "0xCONTRACT",
		Data:  "0xdeadbeef",
		Value: "0x0",
	}, "join club")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, testTxHash, result.TxHash)
	assert.Equal(t, "0xAAA", result.Address)
	assert.NotEmpty(t, result.TxID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "0xAAA", captured.From)
	assert.Equal(t, "0xCONTRACT", captured.To)
	assert.Equal(t, "0x55730", captured.Gas, "missing gas falls back to the configured default")
	assert.Equal(t, "0x2540be400", captured.GasPrice)
	assert.Equal(t, "eip155:97", captured.ChainID)

	ptx, ok := registry.GetPending(sessionID)
	require.True(t, ok)
	assert.Equal(t, model.TxStatusSent, ptx.Status)
	assert.Equal(t, testTxHash, ptx.TxHash)
}

func TestSendCallerGasWins(t *testing.T) {
	client := newFakeClient()

	var captured model.TxRequest
	var mu sync.Mutex
	client.setRequestFn(func(topic, method string, params any) (json.RawMessage, error) {
		if method == "eth_sendTransaction" {
			mu.Lock()
			captured = params.([]model.TxRequest)[0]
			mu.Unlock()
			return json.RawMessage(`"` + testTxHash + `"`), nil
		}
		return json.RawMessage(`"0x61"`), nil
	})

	_, n, relay := newTestRelay(t, client, time.Second)
	connectUser(t, client, n, "user-1")

	_, err := relay.Send(context.Background(), "user-1", TxPayload{
		To:       "0xCONTRACT",
		GasLimit: "0x1234",
		GasPrice: "0x5678",
	}, "")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "0x1234", captured.Gas)
	assert.Equal(t, "0x5678", captured.GasPrice)
}

func TestSendTimeoutDiscardsLateSuccess(t *testing.T) {
	client := newFakeClient()

	release := make(chan struct{})
	client.setRequestFn(func(topic, method string, params any) (json.RawMessage, error) {
		if method == "eth_sendTransaction" {
			<-release // wallet responds only after the relay gave up
			return json.RawMessage(`"` + testTxHash + `"`), nil
		}
		return json.RawMessage(`"0x61"`), nil
	})

	registry, n, relay := newTestRelay(t, client, 50*time.Millisecond)
	sessionID := connectUser(t, client, n, "user-1")

	_, err := relay.Send(context.Background(), "user-1", TxPayload{To: "0xCONTRACT"}, "slow wallet")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeTransactionTimeout, apperrors.GetCode(err))

	ptx, ok := registry.GetPending(sessionID)
	require.True(t, ok)
	assert.Equal(t, model.TxStatusFailed, ptx.Status)

	// The wallet finally signs; the late success must change nothing.
	close(release)
	time.Sleep(50 * time.Millisecond)

	ptx, ok = registry.GetPending(sessionID)
	require.True(t, ok)
	assert.Equal(t, model.TxStatusFailed, ptx.Status)
	assert.Empty(t, ptx.TxHash)
}

func TestSendRejected(t *testing.T) {
	client := newFakeClient()
	client.setRequestFn(func(topic, method string, params any) (json.RawMessage, error) {
		if method == "eth_sendTransaction" {
			return nil, fmt.Errorf("user rejected the request")
		}
		return json.RawMessage(`"0x61"`), nil
	})

	registry, n, relay := newTestRelay(t, client, time.Second)
	sessionID := connectUser(t, client, n, "user-1")

	_, err := relay.Send(context.Background(), "user-1", TxPayload{To: "0xCONTRACT"}, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeTransactionRejected, apperrors.GetCode(err))

	ptx, ok := registry.GetPending(sessionID)
	require.True(t, ok)
	assert.Equal(t, model.TxStatusFailed, ptx.Status)
	assert.Contains(t, ptx.Error, "rejected")
}

func TestSendGenericFailurePreservesMessage(t *testing.T) {
	client := newFakeClient()
	client.setRequestFn(func(topic, method string, params any) (json.RawMessage, error) {
		if method == "eth_sendTransaction" {
			return nil, fmt.Errorf("insufficient funds for gas")
		}
		return json.RawMessage(`"0x61"`), nil
	})

	_, n, relay := newTestRelay(t, client, time.Second)
	connectUser(t, client, n, "user-1")

	_, err := relay.Send(context.Background(), "user-1", TxPayload{To: "0xCONTRACT"}, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeTransactionFailed, apperrors.GetCode(err))
	assert.Contains(t, err.Error(), "insufficient funds for gas")
}

func TestSendRequiresConnection(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		_, _, relay := newTestRelay(t, newFakeClient(), time.Second)

		_, err := relay.Send(context.Background(), "nobody", TxPayload{To: "0xCONTRACT"}, "")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeWalletNotConnected, apperrors.GetCode(err))
	})

	t.Run("session pending approval", func(t *testing.T) {
		client := newFakeClient()
		_, n, relay := newTestRelay(t, client, time.Second)

		_, err := n.CreateSession(context.Background(), "user-1")
		require.NoError(t, err)

		_, err = relay.Send(context.Background(), "user-1", TxPayload{To: "0xCONTRACT"}, "")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeWalletNotConnected, apperrors.GetCode(err))
	})
}

func TestSendManualSessionFailsTyped(t *testing.T) {
	registry, _, negotiator := newTestNegotiator(t, nil)
	relay := NewRelay(registry, negotiator, nil, testChainID, "0x55730", "0x2540be400", time.Second)

	result, err := negotiator.CreateSession(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, result.IsManual)

	// Even if the session were somehow marked connected, a manual handle
	// has no topic to address requests to.
	_, ok := registry.MarkConnected(result.SessionID, "0xAAA", testChainID)
	require.True(t, ok)

	_, err = relay.Send(context.Background(), "user-1", TxPayload{To: "0xCONTRACT"}, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeProtocolConfig, apperrors.GetCode(err))
}

func TestSendWhilePendingIsRejected(t *testing.T) {
	client := newFakeClient()

	release := make(chan struct{})
	client.setRequestFn(func(topic, method string, params any) (json.RawMessage, error) {
		if method == "eth_sendTransaction" {
			<-release
			return json.RawMessage(`"` + testTxHash + `"`), nil
		}
		return json.RawMessage(`"0x61"`), nil
	})

	_, n, relay := newTestRelay(t, client, 2*time.Second)
	connectUser(t, client, n, "user-1")

	firstDone := make(chan error, 1)
	go func() {
		_, err := relay.Send(context.Background(), "user-1", TxPayload{To: "0xCONTRACT"}, "first")
		firstDone <- err
	}()

	// Give the first send time to record its pending transaction.
	time.Sleep(50 * time.Millisecond)

	_, err := relay.Send(context.Background(), "user-1", TxPayload{To: "0xCONTRACT"}, "second")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeTransactionInProgress, apperrors.GetCode(err))

	close(release)
	require.NoError(t, <-firstDone)
}
