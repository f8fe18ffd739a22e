package configwatcher

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/internal/otelutil"
	"github.com/honeycombio/rebalancer/logger"
	"github.com/honeycombio/rebalancer/pubsub"
)

const ConfigPubsubTopic = "rebalancer_config_update"

// ConfigWatcher tells the other rebalancer replicas when this one has loaded
// a new config, and reloads when one of them announces a hash it doesn't
// have yet. It lives in internal because config can't import pubsub.
type ConfigWatcher struct {
	Config config.Config `inject:""`
	PubSub pubsub.PubSub `inject:""`
	Logger logger.Logger `inject:""`
	Tracer trace.Tracer  `inject:"tracer"`

	subscr  pubsub.Subscription
	mut     sync.Mutex
	lastmsg string
}

// ReloadCallback publishes the new hash unless it is the one we were just
// told about.
func (cw *ConfigWatcher) ReloadCallback(cfgHash string) {
	ctx, span := otelutil.StartSpanWith(context.Background(), cw.Tracer, "ConfigWatcher.ReloadCallback", "new_config_hash", cfgHash)
	defer span.End()

	cw.mut.Lock()
	last := cw.lastmsg
	cw.mut.Unlock()
	if cfgHash == last {
		return
	}
	if err := cw.PubSub.Publish(ctx, ConfigPubsubTopic, cfgHash); err != nil {
		otelutil.RecordError(span, err)
		cw.Logger.Warn().WithField("error", err).Logf("failed to announce config change")
	}
}

// SubscriptionListener reloads the config when a replica announces a hash
// that differs from ours.
func (cw *ConfigWatcher) SubscriptionListener(ctx context.Context, msg string) {
	_, span := otelutil.StartSpanWith(ctx, cw.Tracer, "ConfigWatcher.SubscriptionListener", "message", msg)
	defer span.End()

	if msg == "" {
		return
	}
	cw.mut.Lock()
	cw.lastmsg = msg
	cw.mut.Unlock()

	if msg == cw.Config.GetHash() {
		otelutil.AddSpanField(span, "loading_config", false)
		return
	}
	otelutil.AddSpanField(span, "loading_config", true)
	cw.Logger.Info().WithString("config_hash", msg).Logf("reloading config announced by another replica")
	cw.Config.Reload()
}

func (cw *ConfigWatcher) Start() error {
	cw.subscr = cw.PubSub.Subscribe(context.Background(), ConfigPubsubTopic, cw.SubscriptionListener)
	cw.Config.RegisterReloadCallback(cw.ReloadCallback)
	return nil
}

func (cw *ConfigWatcher) Stop() error {
	if cw.subscr != nil {
		cw.subscr.Close()
	}
	return nil
}
