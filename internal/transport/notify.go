package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/hlcsync/internal/hlc"
)

// channelPrefix namespaces notification channels in Redis.
const channelPrefix = "hlcsync:group:"

// Notice announces that a replica pushed entries into a group.
type Notice struct {
	Group      string     `json:"group"`
	ClientID   hlc.NodeID `json:"clientId"`
	MerkleRoot uint64     `json:"merkleRoot"`
}

// Notifier publishes and subscribes to group notices over Redis pub/sub.
// Notices are hints: a missed one only delays the next sync.
type Notifier struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// DialRedis connects to Redis at addr and checks the connection.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// NewNotifier wraps a connected client. A nil logger means slog.Default().
func NewNotifier(rdb *redis.Client, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{rdb: rdb, logger: logger}
}

// Publish announces n on its group's channel.
func (n *Notifier) Publish(ctx context.Context, notice Notice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	if err := n.rdb.Publish(ctx, channelPrefix+notice.Group, payload).Err(); err != nil {
		return fmt.Errorf("publish notice for %s: %w", notice.Group, err)
	}
	return nil
}

// Subscription delivers notices for one group until closed.
type Subscription struct {
	ps *redis.PubSub
	C  <-chan Notice
}

// Subscribe listens for notices on group. The subscription is confirmed
// before Subscribe returns, so no notice published afterwards is missed.
func (n *Notifier) Subscribe(ctx context.Context, group string) (*Subscription, error) {
	ps := n.rdb.Subscribe(ctx, channelPrefix+group)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", group, err)
	}

	out := make(chan Notice, 16)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var notice Notice
			if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
				n.logger.Warn("dropping malformed notice",
					"channel", msg.Channel,
					"error", err)
				continue
			}
			out <- notice
		}
	}()

	return &Subscription{ps: ps, C: out}, nil
}

// Close ends the subscription. C is closed once pending notices drain.
func (s *Subscription) Close() error {
	return s.ps.Close()
}
