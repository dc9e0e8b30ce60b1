package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"auditgate/internal/config"
	"auditgate/internal/errs"
	"auditgate/internal/models"
	"auditgate/internal/repository"
	"auditgate/internal/review"
)

// ProposalSink is satisfied by the review engine.
type ProposalSink interface {
	Ingest(ctx context.Context, p review.Proposal) (*models.StrategyPackage, error)
	Advance(ctx context.Context, id string) error
}

// Gateway consumes strategy proposals from the inbound topics, validates
// them, and hands valid ones to the review engine. A malformed message is
// quarantined and consumption continues; one bad payload never stops the
// pipeline.
type Gateway struct {
	Redis  redis.UniversalClient
	Repo   repository.Repository
	Sink   ProposalSink
	Logger *zap.Logger
	Config config.GatewayConfig
}

func (g *Gateway) Run(ctx context.Context) error {
	if g == nil || g.Redis == nil || g.Sink == nil {
		return nil
	}
	topics := g.Config.InboundTopics
	if len(topics) == 0 {
		topics = []string{"strategy.proposals"}
	}
	sub := g.Redis.Subscribe(ctx, topics...)
	defer sub.Close()

	if g.Logger != nil {
		g.Logger.Info("gateway subscribed", zap.Strings("topics", topics))
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			g.HandleMessage(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

// HandleMessage processes one raw inbound payload. Exposed for tests.
func (g *Gateway) HandleMessage(ctx context.Context, topic string, payload []byte) {
	proposal, err := ParseProposal(payload)
	if err != nil {
		g.quarantine(ctx, topic, payload, err)
		return
	}

	pkg, err := g.Sink.Ingest(ctx, *proposal)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrConflict):
			// Redelivery for an existing package: benign no-op.
			if g.Logger != nil {
				g.Logger.Debug("duplicate proposal ignored",
					zap.String("source_strategy_id", proposal.SourceID),
				)
			}
		case errs.IsValidation(err):
			g.quarantine(ctx, topic, payload, err)
		default:
			if g.Logger != nil {
				g.Logger.Error("proposal ingest failed",
					zap.String("source_strategy_id", proposal.SourceID),
					zap.Error(err),
				)
			}
		}
		return
	}

	go func() {
		if err := g.Sink.Advance(ctx, pkg.ID); err != nil && g.Logger != nil && !errors.Is(err, context.Canceled) {
			g.Logger.Warn("package advance stopped",
				zap.String("package_id", pkg.ID),
				zap.Error(err),
			)
		}
	}()
}

func (g *Gateway) quarantine(ctx context.Context, topic string, payload []byte, cause error) {
	if g.Logger != nil {
		g.Logger.Warn("inbound proposal quarantined",
			zap.String("topic", topic),
			zap.Error(cause),
		)
	}
	if g.Repo == nil {
		return
	}
	stored := payload
	if !json.Valid(stored) {
		raw, _ := json.Marshal(map[string]string{"raw": string(payload)})
		stored = raw
	}
	item := &models.QuarantinedMessage{
		Topic:           topic,
		Payload:         datatypes.JSON(stored),
		ValidationError: cause.Error(),
		ReceivedAt:      time.Now().UTC(),
	}
	if err := g.Repo.InsertQuarantinedMessage(ctx, item); err != nil && g.Logger != nil {
		g.Logger.Error("quarantine insert failed", zap.Error(err))
	}
}

// inboundProposal is the minimal schema of a proposal message. Extra fields
// pass through into the package parameters untouched.
type inboundProposal struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Amount    json.RawMessage `json:"amount"`
	RiskLevel string          `json:"riskLevel"`
	Type      string          `json:"type"`
	Priority  int             `json:"priority"`
}

// ParseProposal validates the required-field set and builds the engine
// proposal. Validation failures are errs.ValidationError.
func ParseProposal(payload []byte) (*review.Proposal, error) {
	var msg inboundProposal
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, errs.Validation("", "malformed json: "+err.Error())
	}
	if strings.TrimSpace(msg.ID) == "" {
		return nil, errs.Validation("id", "missing")
	}
	if strings.TrimSpace(msg.Symbol) == "" {
		return nil, errs.Validation("symbol", "missing")
	}
	if len(msg.Amount) == 0 {
		return nil, errs.Validation("amount", "missing")
	}
	amount, err := parseAmount(msg.Amount)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, errs.Validation("amount", "must be positive")
	}

	riskLevel := strings.ToLower(strings.TrimSpace(msg.RiskLevel))
	if riskLevel == "" {
		riskLevel = strings.ToLower(strings.TrimSpace(msg.Type))
	}
	switch riskLevel {
	case "", models.RiskLow, models.RiskMedium, models.RiskHigh:
	default:
		// An unrecognized level is carried as unset; assessment resolves it.
		riskLevel = ""
	}

	params := extraParameters(payload)
	return &review.Proposal{
		SourceID:   strings.TrimSpace(msg.ID),
		Symbol:     msg.Symbol,
		Amount:     amount,
		RiskLevel:  riskLevel,
		Priority:   msg.Priority,
		Parameters: params,
	}, nil
}

func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return decimal.Zero, errs.Validation("amount", "not a decimal: "+s)
		}
		return d, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return decimal.Zero, errs.Validation("amount", "not a number")
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, errs.Validation("amount", "not a decimal: "+n.String())
	}
	return d, nil
}

// extraParameters keeps every field outside the minimal schema so nothing
// the optimizer sent is lost.
func extraParameters(payload []byte) datatypes.JSON {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(payload, &all); err != nil {
		return nil
	}
	for _, known := range []string{"id", "symbol", "amount", "riskLevel", "type", "priority"} {
		delete(all, known)
	}
	if len(all) == 0 {
		return nil
	}
	raw, err := json.Marshal(all)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
