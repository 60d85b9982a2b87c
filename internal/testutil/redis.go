// Package testutil provides helpers shared by store and engine tests.
package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient starts an in-process miniredis server and returns a client
// connected to it. Both are torn down when the test finishes.
func NewRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	srv := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}
