package pubsub

import (
	"context"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/internal/otelutil"
	"github.com/honeycombio/rebalancer/internal/redis"
	"github.com/honeycombio/rebalancer/logger"
	"github.com/honeycombio/rebalancer/metrics"
)

// GoRedisPubSub is a PubSub implementation that uses Redis as the message broker
// and the go-redis library to interact with Redis. Topics are namespaced
// with the configured Redis prefix.
type GoRedisPubSub struct {
	Config  config.Config   `inject:""`
	Logger  logger.Logger   `inject:""`
	Metrics metrics.Metrics `inject:"metrics"`
	Tracer  trace.Tracer    `inject:"tracer"`
	// Client may be set before Start to reuse an existing connection.
	Client goredis.UniversalClient
	subs   []*GoRedisSubscription
	mut    sync.RWMutex
	prefix string
}

var _ PubSub = (*GoRedisPubSub)(nil)

type GoRedisSubscription struct {
	topic  string
	pubsub *goredis.PubSub
	cb     SubscriptionCallback
	done   chan struct{}
	once   sync.Once
}

var _ Subscription = (*GoRedisSubscription)(nil)

var goredisPubSubMetrics = []metrics.Metadata{
	{Name: "redis_pubsub_published", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of messages published to Redis PubSub"},
	{Name: "redis_pubsub_received", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of messages received from Redis PubSub"},
}

func (ps *GoRedisPubSub) Start() error {
	if ps.Client == nil {
		client, err := redis.NewClient(context.Background(), ps.Config.GetRedisConfig(), ps.Logger)
		if err != nil {
			return err
		}
		ps.Client = client
	}
	if ps.Config != nil {
		ps.prefix = ps.Config.GetRedisConfig().Prefix
		if ps.prefix != "" {
			ps.Logger.Info().WithField("prefix", ps.prefix).Logf("Using Redis pubsub topic prefix for namespacing")
		}
	}

	for _, metric := range goredisPubSubMetrics {
		ps.Metrics.Register(metric)
	}

	ps.subs = make([]*GoRedisSubscription, 0)
	return nil
}

func (ps *GoRedisPubSub) Stop() error {
	ps.Close()
	return nil
}

func (ps *GoRedisPubSub) Close() {
	ps.mut.Lock()
	for _, sub := range ps.subs {
		sub.Close()
	}
	ps.subs = nil
	ps.mut.Unlock()
	ps.Client.Close()
}

func (ps *GoRedisPubSub) Publish(ctx context.Context, topic, message string) error {
	channel := redis.PrefixKey(ps.prefix, topic)
	ctx, span := otelutil.StartSpanMulti(ctx, ps.Tracer, "GoRedisPubSub.Publish", map[string]any{
		"topic":   channel,
		"message": message,
	})
	defer span.End()

	if err := ps.Client.Publish(ctx, channel, message).Err(); err != nil {
		otelutil.RecordError(span, err)
		return err
	}
	ps.Metrics.Count("redis_pubsub_published", 1)
	return nil
}

// Subscribe opens a dedicated Redis connection for the topic. Each callback
// runs on its own goroutine.
func (ps *GoRedisPubSub) Subscribe(ctx context.Context, topic string, callback SubscriptionCallback) Subscription {
	channel := redis.PrefixKey(ps.prefix, topic)
	ctx, span := otelutil.StartSpanWith(ctx, ps.Tracer, "GoRedisPubSub.Subscribe", "topic", channel)
	defer span.End()

	sub := &GoRedisSubscription{
		topic:  channel,
		pubsub: ps.Client.Subscribe(ctx, channel),
		cb:     callback,
		done:   make(chan struct{}),
	}
	ps.mut.Lock()
	ps.subs = append(ps.subs, sub)
	ps.mut.Unlock()
	go func() {
		receiveRootCtx := context.Background()
		redisch := sub.pubsub.Channel()
		for {
			select {
			case <-sub.done:
				sub.pubsub.Close()
				return
			case msg := <-redisch:
				if msg == nil {
					continue
				}
				receiveCtx, span := otelutil.StartSpanMulti(receiveRootCtx, ps.Tracer, "GoRedisPubSub.Receive", map[string]any{
					"topic":              msg.Channel,
					"message_queue_size": len(redisch),
					"message":            msg.Payload,
				})
				ps.Metrics.Count("redis_pubsub_received", 1)

				go func(cbCtx context.Context, span trace.Span, payload string) {
					defer span.End()

					sub.cb(cbCtx, payload)
				}(receiveCtx, span, msg.Payload)
			}
		}
	}()
	return sub
}

func (s *GoRedisSubscription) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}
