package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"auditgate/internal/models"
	"auditgate/internal/repository"
	"auditgate/internal/review"
)

type fakeSink struct {
	mu        sync.Mutex
	ingested  []review.Proposal
	ingestErr error
	advanced  chan string
}

func newFakeSink() *fakeSink {
	return &fakeSink{advanced: make(chan string, 8)}
}

func (s *fakeSink) Ingest(ctx context.Context, p review.Proposal) (*models.StrategyPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ingestErr != nil {
		return nil, s.ingestErr
	}
	s.ingested = append(s.ingested, p)
	return &models.StrategyPackage{ID: "pkg-" + p.SourceID, SourceStrategyID: p.SourceID}, nil
}

func (s *fakeSink) Advance(ctx context.Context, id string) error {
	s.advanced <- id
	return nil
}

type quarantineRepo struct {
	repository.Repository

	mu    sync.Mutex
	items []models.QuarantinedMessage
}

func (r *quarantineRepo) InsertQuarantinedMessage(ctx context.Context, item *models.QuarantinedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, *item)
	return nil
}

func (r *quarantineRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (r *quarantineRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func TestParseProposal_ValidMessage(t *testing.T) {
	payload := []byte(`{
		"id": "opt-123",
		"symbol": "BTC-USD",
		"amount": "1500.25",
		"riskLevel": "medium",
		"priority": 8,
		"venue": "spot",
		"leverage": 2
	}`)
	p, err := ParseProposal(payload)
	require.NoError(t, err)
	assert.Equal(t, "opt-123", p.SourceID)
	assert.Equal(t, "BTC-USD", p.Symbol)
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("1500.25")))
	assert.Equal(t, models.RiskMedium, p.RiskLevel)
	assert.Equal(t, 8, p.Priority)
	assert.JSONEq(t, `{"venue":"spot","leverage":2}`, string(p.Parameters))
}

func TestParseProposal_NumericAmount(t *testing.T) {
	p, err := ParseProposal([]byte(`{"id":"a","symbol":"ETH-USD","amount":250.5}`))
	require.NoError(t, err)
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("250.5")))
}

func TestParseProposal_TypeFieldAsRiskLevelFallback(t *testing.T) {
	p, err := ParseProposal([]byte(`{"id":"a","symbol":"ETH-USD","amount":"10","type":"high"}`))
	require.NoError(t, err)
	assert.Equal(t, models.RiskHigh, p.RiskLevel)
}

func TestParseProposal_UnknownRiskLevelCarriedAsUnset(t *testing.T) {
	p, err := ParseProposal([]byte(`{"id":"a","symbol":"ETH-USD","amount":"10","riskLevel":"extreme"}`))
	require.NoError(t, err)
	assert.Empty(t, p.RiskLevel)
}

func TestParseProposal_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"malformed json", `{"id":`},
		{"missing id", `{"symbol":"BTC-USD","amount":"10"}`},
		{"missing symbol", `{"id":"a","amount":"10"}`},
		{"missing amount", `{"id":"a","symbol":"BTC-USD"}`},
		{"zero amount", `{"id":"a","symbol":"BTC-USD","amount":"0"}`},
		{"negative amount", `{"id":"a","symbol":"BTC-USD","amount":"-3"}`},
		{"non-numeric amount", `{"id":"a","symbol":"BTC-USD","amount":"ten"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseProposal([]byte(tc.payload))
			require.Error(t, err)
		})
	}
}

func TestHandleMessage_ValidProposalReachesSink(t *testing.T) {
	sink := newFakeSink()
	repo := &quarantineRepo{}
	g := &Gateway{Repo: repo, Sink: sink}

	g.HandleMessage(context.Background(), "strategy.proposals",
		[]byte(`{"id":"opt-1","symbol":"BTC-USD","amount":"100"}`))

	select {
	case id := <-sink.advanced:
		assert.Equal(t, "pkg-opt-1", id)
	case <-time.After(time.Second):
		t.Fatal("advance was not triggered")
	}
	require.Len(t, sink.ingested, 1)
	assert.Zero(t, repo.count())
}

func TestHandleMessage_MalformedMessageQuarantined(t *testing.T) {
	sink := newFakeSink()
	repo := &quarantineRepo{}
	g := &Gateway{Repo: repo, Sink: sink}

	g.HandleMessage(context.Background(), "strategy.proposals", []byte(`{"symbol":"BTC-USD"}`))

	assert.Equal(t, 1, repo.count())
	assert.Empty(t, sink.ingested)
	select {
	case <-sink.advanced:
		t.Fatal("quarantined message must not advance")
	case <-time.After(50 * time.Millisecond):
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, "strategy.proposals", repo.items[0].Topic)
	assert.NotEmpty(t, repo.items[0].ValidationError)
}

func TestHandleMessage_OneBadMessageDoesNotStopConsumption(t *testing.T) {
	sink := newFakeSink()
	repo := &quarantineRepo{}
	g := &Gateway{Repo: repo, Sink: sink}

	g.HandleMessage(context.Background(), "t", []byte(`not json at all`))
	g.HandleMessage(context.Background(), "t", []byte(`{"id":"ok","symbol":"ETH-USD","amount":"5"}`))

	select {
	case <-sink.advanced:
	case <-time.After(time.Second):
		t.Fatal("valid message after a bad one must still advance")
	}
	assert.Equal(t, 1, repo.count())
	require.Len(t, sink.ingested, 1)
	assert.Equal(t, "ok", sink.ingested[0].SourceID)
}
