// Package redis connects to a Redis server with retries and exposes a
// healthcheck suitable for readiness probes.
//
//	client, err := redis.Connect(ctx, redis.Config{
//	    ConnectionURL:  "redis://localhost:6379/0",
//	    RetryAttempts:  3,
//	    RetryInterval:  time.Second,
//	    ConnectTimeout: 10 * time.Second,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Config fields are read from REDIS_* environment variables.
package redis
