// Package statemirror is an opt-in Redis mirror of this process's connected
// renderer count, for operators running more than one broker process behind
// a load balancer. It is not consulted by anything in this repo — BrokerState
// still derives its own init/teardown decision from the local Hub alone
// (§4.7's "init on first renderer" is a per-process behavior) — it only
// publishes that local count for external observability.
//
// Grounded on internal/autopilot/instance_control.go's heartbeat-key-with-TTL
// and Pub/Sub shape, trimmed to a single counter instead of active/standby
// election.
package statemirror

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/koshedutech/market-broker/internal/logging"
)

const (
	keyPrefix       = "broker:renderers:"
	heartbeatTTL    = 30 * time.Second
	heartbeatPeriod = 5 * time.Second
	updateChannel   = "broker:renderers:updated"
)

// Mirror publishes this instance's renderer count to Redis on a heartbeat,
// and can sum every live instance's count into a cluster-wide total.
type Mirror struct {
	redis      *redis.Client
	instanceID string
	key        string
	log        *logging.Logger

	cancel context.CancelFunc
}

// New builds a Mirror. instanceID should be stable for this process's
// lifetime (a hostname or pod name); it only namespaces the Redis key.
func New(client *redis.Client, instanceID string) *Mirror {
	return &Mirror{
		redis:      client,
		instanceID: instanceID,
		key:        keyPrefix + instanceID,
		log:        logging.WithComponent("statemirror"),
	}
}

// Start runs the heartbeat loop until ctx is cancelled, publishing count()
// every heartbeatPeriod. The Redis key carries a TTL so a crashed instance's
// count drops out of Total on its own.
func (m *Mirror) Start(ctx context.Context, count func() int) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	go func() {
		ticker := time.NewTicker(heartbeatPeriod)
		defer ticker.Stop()

		m.publish(ctx, count())
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.publish(ctx, count())
			}
		}
	}()
}

// Stop ends the heartbeat loop and removes this instance's key immediately,
// rather than waiting out the TTL.
func (m *Mirror) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.redis.Del(ctx, m.key).Err(); err != nil {
		m.log.Warn("failed to clear renderer mirror key on stop", "error", err)
	}
}

func (m *Mirror) publish(ctx context.Context, n int) {
	if err := m.redis.Set(ctx, m.key, n, heartbeatTTL).Err(); err != nil {
		m.log.Warn("failed to publish renderer count", "error", err)
		return
	}
	if err := m.redis.Publish(ctx, updateChannel, fmt.Sprintf("%s=%d", m.instanceID, n)).Err(); err != nil {
		m.log.Warn("failed to publish renderer count update", "error", err)
	}
}

// Total sums every live instance's published renderer count. Instances whose
// TTL has expired (crashed, or never started) are absent from the scan and
// contribute 0.
func (m *Mirror) Total(ctx context.Context) (int, error) {
	var total int
	iter := m.redis.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		v, err := m.redis.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		total += n
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("statemirror: scan failed: %w", err)
	}
	return total, nil
}
