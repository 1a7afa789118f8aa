package enrichment

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/timofeymelnik/gestoria/pkg/intake"
	"github.com/timofeymelnik/gestoria/pkg/intake/jsonstore"
)

// testService builds the engine over an in-memory repository.
func testService(t *testing.T) (*Service, intake.Repository) {
	t.Helper()
	repo, err := jsonstore.New(afero.NewMemMapFs(), "records", nil)
	require.NoError(t, err)
	return NewService(repo, nil), repo
}

func seedDocument(t *testing.T, repo intake.Repository, id string, p map[string]interface{}) *intake.Record {
	t.Helper()
	record, err := repo.UpsertFromUpload(context.Background(), intake.UpsertParams{
		DocumentID: id,
		Payload:    p,
	})
	require.NoError(t, err)
	return record
}
