package docstore

import (
	"context"
	"encoding/json"
	"sync"

	"qfs/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisFeed carries document change events over Redis pub/sub so every
// server instance sees writes made by the others.
type RedisFeed struct {
	client *redis.Client
	logger logger.Logger
}

func NewRedisFeed(client *redis.Client, log logger.Logger) *RedisFeed {
	return &RedisFeed{client: client, logger: log}
}

type changeEvent struct {
	ID string `json:"id"`
}

func channelFor(collection string) string {
	return "docs:" + collection
}

// Publish announces that a document changed. Delivery is best effort; a
// dropped event only delays a subscriber until the next change.
func (f *RedisFeed) Publish(ctx context.Context, collection, id string) {
	payload, err := json.Marshal(changeEvent{ID: id})
	if err != nil {
		return
	}
	if err := f.client.Publish(ctx, channelFor(collection), payload).Err(); err != nil {
		f.logger.Warn("Change event publish failed", map[string]interface{}{
			"collection": collection,
			"id":         id,
			"error":      err.Error(),
		})
	}
}

// Subscribe invokes fn with the id of every changed document in the
// collection until the returned subscription is released.
func (f *RedisFeed) Subscribe(collection string, fn func(id string)) (Subscription, error) {
	pubsub := f.client.Subscribe(context.Background(), channelFor(collection))

	// Force the subscription onto the wire before returning.
	if _, err := pubsub.Receive(context.Background()); err != nil {
		pubsub.Close()
		return nil, err
	}

	sub := &feedSubscription{pubsub: pubsub}
	go func() {
		for msg := range pubsub.Channel() {
			var ev changeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			fn(ev.ID)
		}
	}()

	return sub, nil
}

type feedSubscription struct {
	pubsub *redis.PubSub
	once   sync.Once
}

func (s *feedSubscription) Unsubscribe() {
	s.once.Do(func() {
		_ = s.pubsub.Close()
	})
}
