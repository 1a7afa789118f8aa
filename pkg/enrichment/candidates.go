package enrichment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/araddon/dateparse"

	"github.com/timofeymelnik/gestoria/pkg/payload"
)

// Corpus window scanned when scoring merge candidates.
const candidateScanLimit = 200

// Candidate scoring signals.
const (
	scoreIdentityMatch      = 100
	scoreNameOverlap        = 40
	scorePartialNameOverlap = 15

	ReasonDocumentMatch      = "document_match"
	ReasonNameOverlap        = "name_overlap"
	ReasonPartialNameOverlap = "partial_name_overlap"
)

// MergeCandidate is a scored suggestion that another record refers to
// the same person as the scored payload.
type MergeCandidate struct {
	DocumentID      string   `json:"document_id"`
	Name            string   `json:"name"`
	DocumentNumber  string   `json:"document_number"`
	UpdatedAt       string   `json:"updated_at"`
	Score           int      `json:"score"`
	Reasons         []string `json:"reasons"`
	IdentityOverlap []string `json:"identity_overlap"`
	NameOverlap     []string `json:"name_overlap"`
}

// MergeCandidatesForPayload scores recent corpus records against the
// given payload's identity keys and name tokens. Identity overlap
// dominates; name-token overlap contributes weaker signals. Results
// are sorted by score, newest first among equals, and truncated to
// limit (default 10).
func (s *Service) MergeCandidatesForPayload(ctx context.Context, documentID string, p map[string]interface{}, limit int) ([]MergeCandidate, error) {
	if limit <= 0 {
		limit = 10
	}

	p, err := s.effectivePayload(ctx, documentID, p)
	if err != nil {
		return nil, err
	}

	localIdentities := payload.IdentityCandidates(p)
	localTokens := payload.NameTokens(p)

	summaries, err := s.repo.SearchDocuments(ctx, "", candidateScanLimit)
	if err != nil {
		return nil, fmt.Errorf("corpus scan failed: %w", err)
	}

	candidates := make([]MergeCandidate, 0, len(summaries))
	for _, summary := range summaries {
		if summary.DocumentID == documentID {
			continue
		}

		record, err := s.repo.GetDocument(ctx, summary.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load candidate %s: %w", summary.DocumentID, err)
		}
		if record == nil {
			continue
		}

		effective := record.EffectivePayload()
		identityOverlap := intersect(localIdentities, payload.IdentityCandidates(effective))
		nameOverlap := intersect(localTokens, payload.NameTokens(effective))

		candidate := MergeCandidate{
			DocumentID:      record.DocumentID,
			Name:            record.Identifiers.Name,
			DocumentNumber:  record.Identifiers.DocumentNumber,
			UpdatedAt:       record.UpdatedAt,
			IdentityOverlap: identityOverlap,
			NameOverlap:     nameOverlap,
		}

		if len(identityOverlap) > 0 {
			candidate.Score += scoreIdentityMatch
			candidate.Reasons = append(candidate.Reasons, ReasonDocumentMatch)
		}
		switch {
		case len(nameOverlap) >= 2:
			candidate.Score += scoreNameOverlap
			candidate.Reasons = append(candidate.Reasons, ReasonNameOverlap)
		case len(nameOverlap) == 1:
			candidate.Score += scorePartialNameOverlap
			candidate.Reasons = append(candidate.Reasons, ReasonPartialNameOverlap)
		}

		if candidate.Score <= 0 {
			continue
		}
		candidates = append(candidates, candidate)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return updatedAtTime(candidates[i].UpdatedAt).After(updatedAtTime(candidates[j].UpdatedAt))
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	s.logger.Debug("merge candidates scored",
		"document_id", documentID,
		"scanned", len(summaries),
		"candidates", len(candidates),
	)
	return candidates, nil
}

// intersect returns the elements of a also present in b, preserving
// a's order.
func intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	set := make(map[string]bool, len(b))
	for _, s := range b {
		set[s] = true
	}
	var out []string
	for _, s := range a {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}

// updatedAtTime parses a stored timestamp for ordering. ISO-8601 is
// expected but legacy corpora carry other formats; unparseable values
// order last.
func updatedAtTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
