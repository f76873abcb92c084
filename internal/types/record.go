package types

// Keyword is a single keyword on a record. Synthesized keywords are
// backfilled from the assembly completeness level when the flatfile carries
// none; they are always distinguishable from source-reported ones.
type Keyword struct {
	Text        string `json:"text"`
	Synthesized bool   `json:"synthesized,omitempty"`
}

// CrossRefs holds the DBLINK cross-references of a record. A nil field means
// the flatfile did not carry that link, which is distinct from an empty one.
type CrossRefs struct {
	BioSample  *string `json:"biosample"`
	BioProject *string `json:"bioproject"`
}

// Reference is one literature reference block from a flatfile record.
type Reference struct {
	Authors *string `json:"authors"`
	Title   *string `json:"title"`
	Journal *string `json:"journal"`
	PubMed  *string `json:"pubmed"`
}

// AssemblySummary carries assembly-catalog fields attached to a sequence
// record after cross-linking. Absent for sequence accessions whose owning
// assembly could not be recovered (that is best-effort, not an error).
type AssemblySummary struct {
	Accession      string `json:"accession"`
	Name           string `json:"name"`
	Level          string `json:"level"`
	RefSeqCategory string `json:"refseq_category"`
	Submitter      string `json:"submitter,omitempty"`
	ReleaseDate    string `json:"release_date,omitempty"`
}

// ParseWarning records a malformed block that was skipped while parsing a
// record. Partial metadata is kept in preference to failing the record.
type ParseWarning struct {
	Block   string `json:"block"`
	Message string `json:"message"`
}

// NormalizedRecord is one genome's metadata in the normalized schema.
// Accession and Organism are always present; every other field is nil or
// empty when the upstream payload did not provide it. Records are never
// mutated after the parser returns them.
type NormalizedRecord struct {
	Accession  string  `json:"accession"`
	Version    *string `json:"version"`
	Locus      *string `json:"locus"`
	Definition *string `json:"definition"`

	DBLink   CrossRefs `json:"dblink"`
	Keywords []Keyword `json:"keywords"`

	Source   *string  `json:"source"`
	Organism string   `json:"organism"`
	Taxonomy []string `json:"taxonomy"`

	References []Reference      `json:"references"`
	Assembly   *AssemblySummary `json:"assembly"`

	// Incomplete marks records resolved through a degraded path, e.g. a
	// scaffold-only assembly where only the largest scaffold was fetched.
	Incomplete bool           `json:"incomplete,omitempty"`
	Warnings   []ParseWarning `json:"warnings,omitempty"`
}

// KeywordTexts returns the keyword strings in order, synthesized or not.
func (r *NormalizedRecord) KeywordTexts() []string {
	if len(r.Keywords) == 0 {
		return nil
	}
	out := make([]string, len(r.Keywords))
	for i, k := range r.Keywords {
		out[i] = k.Text
	}
	return out
}
