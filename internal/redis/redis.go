package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/honeycombio/rebalancer/config"
	"github.com/honeycombio/rebalancer/logger"
)

// NewClient builds a go-redis client from the Redis config section. When
// ClusterHosts is set a cluster client is returned, otherwise a universal
// client for Host. If an AuthCode is configured the connection is
// authenticated before returning.
func NewClient(ctx context.Context, cfg config.RedisConfig, lgr logger.Logger) (goredis.UniversalClient, error) {
	options := &goredis.UniversalOptions{
		Addrs:    []string{cfg.Host},
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.Database,
	}
	if cfg.Timeout > 0 {
		options.DialTimeout = time.Duration(cfg.Timeout)
		options.ReadTimeout = time.Duration(cfg.Timeout)
		options.WriteTimeout = time.Duration(cfg.Timeout)
	}

	clusterModeEnabled := len(cfg.ClusterHosts) > 0
	if clusterModeEnabled {
		lgr.Info().Logf("ClusterHosts was specified, setting up Redis Cluster")
		options.Addrs = cfg.ClusterHosts
	}

	if cfg.UseTLS {
		lgr.Info().WithField("TLSInsecure", cfg.UseTLSInsecure).Logf("Using TLS with Redis")
		options.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.UseTLSInsecure,
		}
	}

	var client goredis.UniversalClient
	if clusterModeEnabled {
		lgr.Info().WithField("hosts", options.Addrs).Logf("Using Redis Cluster Client")
		client = goredis.NewClusterClient(options.Cluster())
	} else {
		lgr.Info().WithField("hosts", options.Addrs).Logf("Using Redis Universal client")
		client = goredis.NewUniversalClient(options)
	}

	if cfg.AuthCode != "" {
		lgr.Info().Logf("Using Redis AuthCode to authenticate connection")
		pipe := client.Pipeline()
		pipe.Auth(ctx, cfg.AuthCode)
		if _, err := pipe.Exec(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("authenticating to redis: %w", err)
		}
	}

	return client, nil
}

// PrefixKey namespaces a key or channel name with the configured prefix, as
// "<prefix>:<key>". An empty prefix leaves the key unchanged.
func PrefixKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}
