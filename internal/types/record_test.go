package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordTexts(t *testing.T) {
	rec := NormalizedRecord{
		Keywords: []Keyword{
			{Text: "RefSeq"},
			{Text: "complete genome", Synthesized: true},
		},
	}
	assert.Equal(t, []string{"RefSeq", "complete genome"}, rec.KeywordTexts())

	empty := NormalizedRecord{}
	assert.Nil(t, empty.KeywordTexts())
}

func TestNormalizedRecord_NullFieldsSurviveJSON(t *testing.T) {
	rec := NormalizedRecord{
		Accession: "NC_000913",
		Organism:  "Escherichia coli",
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	// Absent optionals serialize as explicit nulls, not as missing keys.
	assert.Contains(t, string(data), `"version":null`)
	assert.Contains(t, string(data), `"biosample":null`)
	assert.NotContains(t, string(data), `"incomplete"`)

	var out NormalizedRecord
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Nil(t, out.Version)
	assert.Nil(t, out.DBLink.BioSample)
	assert.Equal(t, "NC_000913", out.Accession)
}
