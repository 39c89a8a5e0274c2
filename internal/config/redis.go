package config

import (
	"context"
	"log"
	"net"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to the Redis instance backing the rate
// limiter. REDIS_URL (redis:// or rediss://) wins when set; otherwise
// REDIS_HOST/REDIS_PORT with optional REDIS_PASSWORD and REDIS_DB are
// assembled into options, defaulting to localhost:6379.
//
// Redis is not a hard dependency: when the server cannot be reached at
// startup this returns nil and the limiter fails open.
func NewRedisClient() *redis.Client {
	var opts *redis.Options
	if url := os.Getenv("REDIS_URL"); url != "" {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			log.Printf("config: bad REDIS_URL, rate limiting disabled: %v", err)
			return nil
		}
		opts = parsed
	} else {
		host := envStr("REDIS_HOST", "localhost")
		port := envStr("REDIS_PORT", "6379")
		opts = &redis.Options{
			Addr:     net.JoinHostPort(host, port),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		}
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("config: redis unreachable at %s, rate limiting disabled: %v", opts.Addr, err)
		_ = client.Close()
		return nil
	}
	return client
}
