package services

import (
	"context"
	"sync"

	"github.com/ruralpay/tourwallet/internal/events"
	"github.com/ruralpay/tourwallet/internal/providers"
	"github.com/stretchr/testify/mock"
)

type MockAdapter struct {
	mock.Mock
	key    providers.ProviderKey
	secret string
}

func (m *MockAdapter) Key() providers.ProviderKey { return m.key }

func (m *MockAdapter) WebhookSecret() string { return m.secret }

func (m *MockAdapter) InitiateTopUp(ctx context.Context, req providers.SignedTopUp) providers.Result {
	args := m.Called(req.Transaction.ID, req.Transaction.Amount)
	return args.Get(0).(providers.Result)
}

// syncAdapter confirms synchronously and has no callback surface
type syncAdapter struct {
	key providers.ProviderKey
}

func (a syncAdapter) Key() providers.ProviderKey { return a.key }

func (a syncAdapter) InitiateTopUp(ctx context.Context, req providers.SignedTopUp) providers.Result {
	return providers.Result{Provider: a.key, Outcome: providers.OutcomeOK}
}

type MockPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *MockPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *MockPublisher) Close() {}

func (p *MockPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
