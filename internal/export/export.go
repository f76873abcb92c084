// Package export serializes finished job results for download: indented
// JSON and a flattened CSV table.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"

	"github.com/jonathan/genome-harvester/internal/types"
)

// csvHeader is the flattened column set. Nested structures collapse to
// their common fields; only the first literature reference is exported.
var csvHeader = []string{
	"accession",
	"version",
	"locus",
	"definition",
	"organism",
	"source",
	"biosample",
	"bioproject",
	"keywords",
	"taxonomy",
	"assembly_accession",
	"assembly_name",
	"assembly_level",
	"refseq_category",
	"ref_authors",
	"ref_title",
	"ref_journal",
	"ref_pubmed",
}

// WriteJSON writes the full result document as indented JSON.
func WriteJSON(w io.Writer, results *types.JobResults) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// WriteCSV writes the result records as a flattened CSV table. Errors are
// not part of the table; callers expose them through the JSON document.
func WriteCSV(w io.Writer, results *types.JobResults) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for i := range results.Results {
		if err := cw.Write(csvRow(&results.Results[i])); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(rec *types.NormalizedRecord) []string {
	row := []string{
		rec.Accession,
		deref(rec.Version),
		deref(rec.Locus),
		deref(rec.Definition),
		rec.Organism,
		deref(rec.Source),
		deref(rec.DBLink.BioSample),
		deref(rec.DBLink.BioProject),
		strings.Join(rec.KeywordTexts(), "; "),
		strings.Join(rec.Taxonomy, "; "),
	}

	if asm := rec.Assembly; asm != nil {
		row = append(row, asm.Accession, asm.Name, asm.Level, asm.RefSeqCategory)
	} else {
		row = append(row, "", "", "", "")
	}

	if len(rec.References) > 0 {
		ref := rec.References[0]
		row = append(row, deref(ref.Authors), deref(ref.Title), deref(ref.Journal), deref(ref.PubMed))
	} else {
		row = append(row, "", "", "", "")
	}
	return row
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
