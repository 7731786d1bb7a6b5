package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirkredit/backend/internal/config"
	"kasirkredit/backend/internal/jobs"
	"kasirkredit/backend/internal/store/memory"
)

func TestCronEntriesFollowConfig(t *testing.T) {
	entries, err := cronEntries(config.Config{OverdueSweepCron: "15 1 * * *", CreditDriftCron: "45 1 * * *", CreditDriftRepair: true})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, jobs.TaskOverdueSweep, entries[0].Task.Type())
	assert.Equal(t, jobs.TaskCreditDrift, entries[1].Task.Type())

	var payload jobs.CreditDriftPayload
	require.NoError(t, json.Unmarshal(entries[1].Task.Payload(), &payload))
	assert.True(t, payload.Repair)

	entries, err = cronEntries(config.Config{OverdueSweepCron: "15 1 * * *"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOpenRepositoryWithoutDatabaseUsesMemory(t *testing.T) {
	repo, closeFn, err := openRepository(context.Background(), config.Config{})
	require.NoError(t, err)
	assert.Nil(t, closeFn)
	assert.IsType(t, &memory.Store{}, repo)
}
