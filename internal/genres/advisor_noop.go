package genres

import (
	"context"

	"github.com/ternarybob/fabula/internal/interfaces"
)

// NoopAdvisor always answers NO_FIT, so every unknown genre becomes a new
// canonical. Used in tests and as a stand-in when classification is wanted
// structurally but no model is configured.
type NoopAdvisor struct{}

// NewNoopAdvisor creates an advisor that never classifies
func NewNoopAdvisor() *NoopAdvisor {
	return &NoopAdvisor{}
}

// Classify always reports no fit
func (a *NoopAdvisor) Classify(ctx context.Context, genre string, mappingJSON string) (string, error) {
	return interfaces.NoFitAnswer, nil
}

// Ping always succeeds
func (a *NoopAdvisor) Ping(ctx context.Context) error {
	return nil
}
