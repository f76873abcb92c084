package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCanceled.Terminal())
}

func TestQueryFilters_Preference(t *testing.T) {
	assert.Equal(t, PreferRefSeq, QueryFilters{}.Preference())
	assert.Equal(t, PreferGenBank, QueryFilters{SourcePreference: PreferGenBank}.Preference())
	assert.Equal(t, PreferEither, QueryFilters{SourcePreference: PreferEither}.Preference())
}

func TestQueryFilters_Latest(t *testing.T) {
	assert.True(t, QueryFilters{}.Latest())

	yes := true
	no := false
	assert.True(t, QueryFilters{LatestOnly: &yes}.Latest())
	assert.False(t, QueryFilters{LatestOnly: &no}.Latest())
}

func TestQueryJobRequest_Validate(t *testing.T) {
	valid := QueryJobRequest{Organism: "Escherichia coli", Limit: 10}
	assert.NoError(t, valid.Validate())

	missing := QueryJobRequest{}
	assert.Error(t, missing.Validate())

	overLimit := QueryJobRequest{Organism: "Escherichia coli", Limit: 101}
	assert.Error(t, overLimit.Validate())
}

func TestAccessionJobRequest_Validate(t *testing.T) {
	valid := AccessionJobRequest{Accessions: []string{"GCF_000005845.2"}}
	assert.NoError(t, valid.Validate())

	empty := AccessionJobRequest{}
	assert.Error(t, empty.Validate())

	blankEntry := AccessionJobRequest{Accessions: []string{""}}
	assert.Error(t, blankEntry.Validate())
}

func TestQueryFilters_JSONRoundTrip(t *testing.T) {
	no := false
	in := QueryFilters{
		AssemblyLevel:    []AssemblyLevel{LevelCompleteGenome, LevelChromosome},
		SourcePreference: PreferGenBank,
		LatestOnly:       &no,
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"source_db_preference":"GenBank"`)
	assert.Contains(t, string(data), `"latest_only":false`)

	var out QueryFilters
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}
