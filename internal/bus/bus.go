// Package bus provides the pub/sub fabric that couples the pipeline stages.
//
// Channel names are part of the wire protocol and preserved verbatim from the
// deployed system. Delivery is at-most-once: the bus bridges brief consumer
// outages but messages published while a consumer is down are lost, and every
// consumer is written to tolerate gaps.
//
// Two implementations exist: Redis (production) and an in-process bus used by
// tests and single-binary runs.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Bus channel names.
const (
	CaptainSignals = "HORUS_CAPTAIN_SIGNALS" // intent signals: Console, Eye → Brain
	BrainSignals   = "HORUS_BRAIN_SIGNALS"   // alternate intent channel from the console
	SmartEntry     = "HORUS_SMART_ENTRY"     // RISKY demand: Brain → Engine
	FleetCommand   = "NEXUS_FLEET_COMMAND"   // execution packets: Brain/Engine → Fleet
	Alerts         = "HORUS_ALERTS"          // alert feed: core → operator console
)

// Message is one delivered bus payload.
type Message struct {
	Channel string
	Payload []byte
}

// Bus is the pub/sub interface used by every pipeline stage. Publish marshals
// v to JSON; Subscribe returns a channel that closes when ctx is cancelled.
type Bus interface {
	Publish(ctx context.Context, channel string, v any) error
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, error)
	Close() error
}

// subscribeBufferSize buffers bursts between the Redis reader goroutine and
// slow consumers before messages are dropped.
const subscribeBufferSize = 256

// Redis is the production Bus backed by Redis pub/sub.
type Redis struct {
	rdb *redis.Client
}

// NewRedis connects to the Redis instance at url (redis://host:port/db) and
// verifies the connection with a ping.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

// Publish marshals v and publishes it on channel.
func (r *Redis) Publish(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", channel, err)
	}
	if err := r.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a Redis subscription on the given channels and pumps
// deliveries into the returned channel until ctx is cancelled.
func (r *Redis) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	sub := r.rdb.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	out := make(chan Message, subscribeBufferSize)
	go func() {
		defer close(out)
		defer sub.Close()
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the Redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
