package chat

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// fanoutChannel is the single pub/sub channel shared by all server
// instances. Routing happens on the receiving side, against each instance's
// own registry.
const fanoutChannel = "whyhot:messages"

// Broker carries message envelopes between server instances. Subscribe
// yields every payload published by any instance, this one included.
type Broker interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context) <-chan []byte
}

// RedisBroker fans envelopes out through a Redis pub/sub channel.
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, payload []byte) error {
	return b.client.Publish(ctx, fanoutChannel, payload).Err()
}

// Subscribe returns a channel of raw payloads that closes when ctx is
// cancelled.
func (b *RedisBroker) Subscribe(ctx context.Context) <-chan []byte {
	pubsub := b.client.Subscribe(ctx, fanoutChannel)
	out := make(chan []byte)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
