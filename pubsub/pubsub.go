package pubsub

import (
	"context"

	"github.com/facebookgo/startstop"
)

// general usage:
// pubsub := pubsub.NewXXXPubSub()
// pubsub.Start()
// sub := pubsub.Subscribe(ctx, "topic", func(ctx context.Context, msg string) {
// 	fmt.Println(msg)
// })
// pubsub.Publish(ctx, "topic", "message")
// sub.Close() // optional if you want to unsubscribe independently
// pubsub.Close()

// PubSub carries fire-and-forget messages between processes. Delivery is at
// most once: subscribers that are not connected when a message is published
// never see it.
type PubSub interface {
	// Publish sends a message to all subscribers of the topic.
	Publish(ctx context.Context, topic, message string) error
	// Subscribe calls callback for every message published to topic until
	// the returned Subscription or the PubSub is closed.
	Subscribe(ctx context.Context, topic string, callback SubscriptionCallback) Subscription
	// Close shuts down all subscriptions and the pubsub connection.
	Close()

	// we want to embed startstop.Starter and startstop.Stopper so that we
	// can participate in injection
	startstop.Starter
	startstop.Stopper
}

// SubscriptionCallback is called for each received message. Callbacks may
// run concurrently.
type SubscriptionCallback func(ctx context.Context, msg string)

type Subscription interface {
	// Close stops delivering messages to the callback. It is safe to call
	// more than once.
	Close()
}
