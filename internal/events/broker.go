package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	redisclient "github.com/openclaw/walletbridge-go/internal/redis"
)

const (
	TypeWalletConnected    = "wallet_connected"
	TypeConnectionTimeout  = "connection_timeout"
	TypeConnectionDeclined = "connection_declined"
)

const subscriberBufferSize = 16

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WalletConnectedPayload is the Data of a wallet_connected event.
type WalletConnectedPayload struct {
	UserID    string `json:"userId"`
	Address   string `json:"address"`
	ChainID   int64  `json:"chainId"`
	SessionID string `json:"sessionId"`
}

type Subscriber struct {
	UserID string
	Events chan Event
	Done   chan struct{}
}

// Broker fans wallet events out to in-process subscribers and, when redis
// is configured, publishes them to the per-user channel the chat bot
// listens on.
type Broker struct {
	redis       *redisclient.Client // nil when redis is not configured
	subscribers map[string]map[*Subscriber]bool
	mu          sync.RWMutex
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	return &Broker{
		redis:       redisClient,
		subscribers: make(map[string]map[*Subscriber]bool),
	}
}

func (b *Broker) Subscribe(userID string) *Subscriber {
	sub := &Subscriber{
		UserID: userID,
		Events: make(chan Event, subscriberBufferSize),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.subscribers[userID] == nil {
		b.subscribers[userID] = make(map[*Subscriber]bool)
	}
	b.subscribers[userID][sub] = true
	b.mu.Unlock()

	return sub
}

func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subscribers[sub.UserID]; ok {
		if subs[sub] {
			delete(subs, sub)
			close(sub.Done)
		}
		if len(subs) == 0 {
			delete(b.subscribers, sub.UserID)
		}
	}
}

func (b *Broker) Publish(ctx context.Context, userID string, event Event) error {
	b.mu.RLock()
	subs := b.subscribers[userID]
	for sub := range subs {
		select {
		case sub.Events <- event:
		default:
			log.Warn().
				Str("userId", userID).
				Str("type", event.Type).
				Msg("subscriber event buffer full, dropping event")
		}
	}
	b.mu.RUnlock()

	if b.redis == nil {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, redisclient.EventChannel(userID), data).Err()
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.subscribers {
		for sub := range subs {
			close(sub.Done)
		}
	}
	b.subscribers = make(map[string]map[*Subscriber]bool)
}

func (b *Broker) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[userID])
}
