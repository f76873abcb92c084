package db

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/genome-harvester/internal/types"
)

func TestJobFiltersDefaults(t *testing.T) {
	filters := JobFilters{}
	assert.Empty(t, filters.Mode)
	assert.Empty(t, filters.Status)
	assert.Zero(t, filters.Limit)
}

func TestArchivedJobType(t *testing.T) {
	job := ArchivedJob{
		ID:     uuid.New(),
		Mode:   types.ModeQuery,
		Status: types.StatusSucceeded,
		Progress: types.Progress{
			Total:     3,
			Completed: 2,
			Errored:   1,
		},
	}

	assert.Equal(t, types.ModeQuery, job.Mode)
	assert.True(t, job.Status.Terminal())
	assert.Equal(t, 3, job.Progress.Total)
	assert.Nil(t, job.Errors)
}
