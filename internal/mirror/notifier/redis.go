package notifier

import (
	"context"
	"log/slog"

	"trustledger/internal/ledger/models"
	platformredis "trustledger/internal/platform/redis"
)

const channelPrefix = "trustledger:events:"

// RedisNotifier publishes applied events to a per-subject Redis channel so
// other processes (or API replicas) can serve live subscriptions. Failures
// are logged and swallowed: the mirror is already updated and clients can
// re-fetch.
type RedisNotifier struct {
	client *platformredis.Client
	logger *slog.Logger
}

func NewRedisNotifier(client *platformredis.Client, logger *slog.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, logger: logger}
}

func (n *RedisNotifier) Notify(ctx context.Context, env models.Envelope) {
	encoded, err := env.Encode()
	if err != nil {
		n.logger.ErrorContext(ctx, "notification encode failed",
			"subject", env.Subject, "sequence", env.Sequence, "error", err)
		return
	}
	if err := n.client.Publish(ctx, channelPrefix+env.Subject.String(), encoded).Err(); err != nil {
		n.logger.WarnContext(ctx, "notification publish failed",
			"subject", env.Subject, "sequence", env.Sequence, "error", err)
	}
}
