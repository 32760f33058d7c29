package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"proxygate/internal/registry"
)

const (
	InstanceHeartbeatKeyPrefix = "proxygate:instance:"
	DefaultHeartbeatInterval   = 15 * time.Second
	DefaultHeartbeatTTL        = 30 * time.Second
)

var instanceID = generateInstanceID()

func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d", hostname, os.Getpid(), time.Now().UnixNano())
}

// heartbeatPayload is what each instance publishes about itself.
type heartbeatPayload struct {
	Pid     int       `json:"pid"`
	Proxies int       `json:"proxies"`
	Working int       `json:"working"`
	SentAt  time.Time `json:"sent_at"`
}

// StartInstanceHeartbeat periodically publishes this instance's liveness and
// pool size to redis so operators can see the fleet at a glance.
func StartInstanceHeartbeat(ctx context.Context, client *redis.Client, reg *registry.Registry, keyPrefix string, interval, ttl time.Duration) {
	if ctx == nil {
		ctx = context.Background()
	}
	heartbeatKey := keyPrefix + instanceID

	sendHeartbeat := func() {
		payload, err := json.Marshal(heartbeatPayload{
			Pid:     os.Getpid(),
			Proxies: reg.Len(),
			Working: len(reg.ListWorking()),
			SentAt:  time.Now().UTC(),
		})
		if err != nil {
			return
		}
		if err := client.SetEx(ctx, heartbeatKey, string(payload), ttl).Err(); err != nil {
			log.Error("Failed to update instance heartbeat", "key", heartbeatKey, "error", err)
		}
	}

	sendHeartbeat()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sendHeartbeat()
		}
	}
}

// LaunchInstanceHeartbeat starts the heartbeat in the background and returns
// its cancel function.
func LaunchInstanceHeartbeat(parent context.Context, client *redis.Client, reg *registry.Registry) context.CancelFunc {
	ctx, cancel := context.WithCancel(parent)
	go StartInstanceHeartbeat(ctx, client, reg, InstanceHeartbeatKeyPrefix, DefaultHeartbeatInterval, DefaultHeartbeatTTL)
	return cancel
}

// CountActiveInstances reports how many instances sent a live heartbeat.
func CountActiveInstances(ctx context.Context, client *redis.Client) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	keys, err := client.Keys(ctx, InstanceHeartbeatKeyPrefix+"*").Result()
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
