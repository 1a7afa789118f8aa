package enrichment

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/timofeymelnik/gestoria/pkg/intake"
)

// Service is the reconciliation engine over the intake repository port.
// All state lives behind the port; the service itself is stateless and
// safe for concurrent use.
type Service struct {
	repo   intake.Repository
	logger hclog.Logger
}

// NewService wraps the repository port.
func NewService(repo intake.Repository, log hclog.Logger) *Service {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Service{
		repo:   repo,
		logger: log.Named("enrichment"),
	}
}

// effectivePayload returns p unchanged when given, the record's stored
// effective payload otherwise. A missing record yields nil.
func (s *Service) effectivePayload(ctx context.Context, documentID string, p map[string]interface{}) (map[string]interface{}, error) {
	if p != nil {
		return p, nil
	}
	record, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", documentID, err)
	}
	if record == nil {
		return nil, nil
	}
	return record.EffectivePayload(), nil
}
