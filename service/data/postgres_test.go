package data

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-batch/model"
)

func TestPostgres_RunSummaries(t *testing.T) {
	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	svc, err := NewPostgres(context.Background(), connString)
	require.NoError(t, err)
	defer svc.Close()

	runID := uuid.NewString()
	require.NoError(t, svc.NewItemStats(model.ItemStats{RunID: runID, Item: "a.mp4", Kind: model.MediaVideo, Status: model.ItemDone}))
	require.NoError(t, svc.NewError(model.GenError("worker", context.Canceled, nil, "cancelled")))
	require.NoError(t, svc.NewRunSummary(model.RunSummary{RunID: runID, Total: 2, Done: 1, Failed: 1,
		Failures: []model.ItemFailure{{Item: "b.mp4", Kind: "decode", Reason: "corrupt"}}}))

	summaries, err := svc.RetrieveRunSummaries()
	require.NoError(t, err)

	var found *model.RunSummary
	for i := range summaries {
		if summaries[i].RunID == runID {
			found = &summaries[i]
		}
	}
	require.NotNil(t, found)
	require.Equal(t, 1, found.Failed)
	require.Equal(t, "b.mp4", found.Failures[0].Item)
}
