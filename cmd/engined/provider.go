package main

import (
	"context"
	"sync/atomic"

	engerr "github.com/axiomflow/orchestrator/engine/errors"
	"github.com/axiomflow/orchestrator/queue"
	"github.com/axiomflow/orchestrator/router"
)

// localProvider is an in-process compute backend used for development and
// smoke testing. It echoes job payloads back as results.
type localProvider struct {
	initialized atomic.Bool
}

func newLocalProvider() *localProvider {
	return &localProvider{}
}

// Initialize marks the provider ready; the local provider needs no config
func (p *localProvider) Initialize(ctx context.Context, config map[string]any) error {
	p.initialized.Store(true)
	return nil
}

// IsInitialized reports readiness
func (p *localProvider) IsInitialized() bool {
	return p.initialized.Load()
}

// ProviderType identifies the backend family
func (p *localProvider) ProviderType() router.ProviderType {
	return "local"
}

// ListModels doubles as the liveness probe
func (p *localProvider) ListModels(ctx context.Context) ([]router.ModelInfo, error) {
	return []router.ModelInfo{{ID: "local-echo", Name: "Local Echo"}}, nil
}

// ModelInfo describes one model
func (p *localProvider) ModelInfo(ctx context.Context, id string) (*router.ModelInfo, error) {
	if id != "local-echo" {
		return nil, engerr.E(engerr.KindNotFound, "model %s not found", id)
	}
	return &router.ModelInfo{ID: "local-echo", Name: "Local Echo"}, nil
}

// ValidateModel checks that a model id is served here
func (p *localProvider) ValidateModel(ctx context.Context, id string) error {
	_, err := p.ModelInfo(ctx, id)
	return err
}

// Run executes one job: the payload is echoed back with the job type
func (p *localProvider) Run(ctx context.Context, job *queue.Job) (any, error) {
	if !p.IsInitialized() {
		return nil, engerr.E(engerr.KindNonRetryable, "local provider not initialized")
	}
	return map[string]any{
		"type":    job.Type,
		"payload": job.Payload,
	}, nil
}
