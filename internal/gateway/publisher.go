package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"auditgate/internal/config"
	"auditgate/internal/models"
	"auditgate/internal/review"
)

// Publisher emits decision outcomes on the outbound topics. Publish
// failures retry with bounded exponential backoff; exhausting the retries
// surfaces an error but never rolls back the package state (at-least-once,
// downstream de-duplicates by package id).
type Publisher struct {
	Redis  redis.UniversalClient
	Logger *zap.Logger
	Config config.GatewayConfig
}

func (p *Publisher) PublishOutcome(ctx context.Context, out review.Outcome) error {
	if p == nil || p.Redis == nil {
		return nil
	}
	topic := p.topicFor(out.Status)
	if topic == "" {
		// Rejection topic is optional observability; nothing to do.
		return nil
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}

	retries := p.Config.PublishRetries
	if retries <= 0 {
		retries = 5
	}
	backoff := p.Config.PublishBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	maxBackoff := p.Config.PublishBackoffMax
	if maxBackoff <= 0 {
		maxBackoff = 10 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
		lastErr = p.Redis.Publish(ctx, topic, payload).Err()
		if lastErr == nil {
			if p.Logger != nil {
				p.Logger.Info("outcome published",
					zap.String("topic", topic),
					zap.String("package_id", out.PackageID),
					zap.String("status", out.Status),
				)
			}
			return nil
		}
		if p.Logger != nil {
			p.Logger.Warn("outcome publish attempt failed",
				zap.String("topic", topic),
				zap.String("package_id", out.PackageID),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr),
			)
		}
	}
	return fmt.Errorf("publish to %s after %d attempts: %w", topic, retries, lastErr)
}

func (p *Publisher) topicFor(status string) string {
	switch status {
	case models.StatusCompleted:
		if p.Config.ApprovedTopic != "" {
			return p.Config.ApprovedTopic
		}
		return "strategy.approved"
	case models.StatusFailed, models.StatusCancelled:
		return p.Config.RejectedTopic
	}
	return ""
}
