package redis

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

// NewTestClient starts a miniredis server for the duration of the test and
// returns a client connected to it, plus the server for inspection and
// fault injection.
func NewTestClient(t testing.TB) (goredis.UniversalClient, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs: []string{server.Addr()},
	})
	t.Cleanup(func() { client.Close() })
	return client, server
}
