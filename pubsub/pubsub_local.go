package pubsub

import (
	"context"
	"sync"
)

// LocalPubSub delivers messages to subscribers in the same process. It is
// used when no Redis is configured and in tests.
type LocalPubSub struct {
	topics map[string][]*LocalSubscription
	mut    sync.RWMutex
}

var _ PubSub = (*LocalPubSub)(nil)

type LocalSubscription struct {
	ps    *LocalPubSub
	topic string
	cb    SubscriptionCallback
	once  sync.Once
}

var _ Subscription = (*LocalSubscription)(nil)

func (ps *LocalPubSub) Start() error {
	ps.topics = make(map[string][]*LocalSubscription)
	return nil
}

func (ps *LocalPubSub) Stop() error {
	ps.Close()
	return nil
}

func (ps *LocalPubSub) Close() {
	ps.mut.Lock()
	defer ps.mut.Unlock()
	ps.topics = make(map[string][]*LocalSubscription)
}

// Publish calls every current subscriber's callback synchronously, in
// subscription order.
func (ps *LocalPubSub) Publish(ctx context.Context, topic, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ps.mut.RLock()
	subs := make([]*LocalSubscription, len(ps.topics[topic]))
	copy(subs, ps.topics[topic])
	ps.mut.RUnlock()

	for _, sub := range subs {
		sub.cb(ctx, message)
	}
	return nil
}

func (ps *LocalPubSub) Subscribe(ctx context.Context, topic string, callback SubscriptionCallback) Subscription {
	ps.mut.Lock()
	defer ps.mut.Unlock()
	sub := &LocalSubscription{
		ps:    ps,
		topic: topic,
		cb:    callback,
	}
	ps.topics[topic] = append(ps.topics[topic], sub)
	return sub
}

func (s *LocalSubscription) Close() {
	s.once.Do(func() {
		s.ps.mut.Lock()
		defer s.ps.mut.Unlock()
		subs := s.ps.topics[s.topic]
		for i, sub := range subs {
			if sub == s {
				s.ps.topics[s.topic] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	})
}
