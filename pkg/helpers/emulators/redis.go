package emulators

import (
	"context"
	"fmt"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	redisEmulatorImage = "redis:7-alpine"
	redisEmulatorPort  = "6379"
)

type RedisConfig struct {
	ImageContainer
}

func GetDefaultRedisConfig() RedisConfig {
	return RedisConfig{
		ImageContainer: ImageContainer{
			EmulatorImage: redisEmulatorImage,
			EmulatorPort:  redisEmulatorPort,
		},
	}
}

// SetupRedisContainer starts a Redis container, pings it, and returns
// its address.
func SetupRedisContainer(t *testing.T, ctx context.Context, cfg RedisConfig) (addr string, cleanupFunc func()) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{fmt.Sprintf("%s/tcp", cfg.EmulatorPort)},
		WaitingFor:   wait.ForListeningPort(nat.Port(cfg.EmulatorPort)),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, nat.Port(cfg.EmulatorPort))
	require.NoError(t, err)
	addr = fmt.Sprintf("%s:%s", host, port.Port())

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, rdb.Ping(ctx).Err())
	require.NoError(t, rdb.Close())

	t.Logf("Redis container started, listening on: %s", addr)
	return addr, func() {
		if err := container.Terminate(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to terminate Redis container")
		}
	}
}
