// Package genbank parses GenBank flatfile records into the normalized
// metadata schema. It is the only layer that sees the raw flatfile text;
// everything downstream operates on types.NormalizedRecord.
package genbank

import (
	"fmt"
	"strings"

	"github.com/jonathan/genome-harvester/internal/types"
)

// ParseError reports a record that could not be parsed at all, i.e. its
// accession or organism could not be recovered. Malformed individual blocks
// never produce a ParseError; they become warnings on the record.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("genbank parse error: %s", e.Message)
}

// Result pairs one parsed record with its failure, preserving payload order
// so callers can map records back to the identifiers they fetched.
type Result struct {
	Record *types.NormalizedRecord
	Err    error
}

// recordTerminator ends one flatfile record.
const recordTerminator = "//"

// ParseBatch splits a payload that may hold several flatfile records and
// parses each, preserving order.
func ParseBatch(payload string) []Result {
	var results []Result
	for _, chunk := range splitRecords(payload) {
		rec, err := ParseRecord(chunk)
		results = append(results, Result{Record: rec, Err: err})
	}
	return results
}

// splitRecords cuts the payload on "//" terminator lines, dropping empty
// chunks.
func splitRecords(payload string) []string {
	var chunks []string
	var current []string
	for _, line := range strings.Split(payload, "\n") {
		if strings.TrimRight(line, "\r ") == recordTerminator {
			if chunk := strings.TrimSpace(strings.Join(current, "\n")); chunk != "" {
				chunks = append(chunks, strings.Join(current, "\n"))
			}
			current = current[:0]
			continue
		}
		current = append(current, line)
	}
	if chunk := strings.TrimSpace(strings.Join(current, "\n")); chunk != "" {
		chunks = append(chunks, strings.Join(current, "\n"))
	}
	return chunks
}

// block is one labeled top-level section with its continuation lines.
type block struct {
	keyword string
	lines   []string
}

// ParseRecord converts one flatfile record into a NormalizedRecord. A field
// absent from the payload yields a nil value, never a fabricated default.
// Malformed blocks are skipped with a warning on the record; only a missing
// accession or organism fails the record.
func ParseRecord(text string) (*types.NormalizedRecord, error) {
	blocks := collectBlocks(text)
	if len(blocks) == 0 {
		return nil, &ParseError{Message: "empty record"}
	}

	rec := &types.NormalizedRecord{}

	for _, b := range blocks {
		switch b.keyword {
		case "LOCUS":
			if name := firstToken(joined(b)); name != "" {
				rec.Locus = ptr(name)
			} else {
				rec.Warnings = append(rec.Warnings, types.ParseWarning{Block: "LOCUS", Message: "missing locus name"})
			}
		case "DEFINITION":
			if def := joined(b); def != "" {
				rec.Definition = ptr(def)
			}
		case "ACCESSION":
			rec.Accession = firstToken(joined(b))
		case "VERSION":
			if v := firstToken(joined(b)); v != "" {
				rec.Version = ptr(v)
				if rec.Accession == "" {
					rec.Accession = strings.SplitN(v, ".", 2)[0]
				}
			}
		case "DBLINK":
			parseDBLink(b, rec)
		case "KEYWORDS":
			parseKeywords(b, rec)
		case "SOURCE":
			parseSource(b, rec)
		case "REFERENCE":
			if ref, ok := parseReference(b); ok {
				rec.References = append(rec.References, ref)
			} else {
				rec.Warnings = append(rec.Warnings, types.ParseWarning{Block: "REFERENCE", Message: "unparseable reference block"})
			}
		}
	}

	if rec.Accession == "" {
		return nil, &ParseError{Message: "record has no accession"}
	}
	if rec.Organism == "" {
		return nil, &ParseError{Message: fmt.Sprintf("record %s has no organism", rec.Accession)}
	}
	return rec, nil
}

// collectBlocks groups the record's lines into labeled top-level blocks.
// A top-level keyword starts in column zero; everything indented under it,
// including sub-keywords like ORGANISM and AUTHORS, stays in the block.
func collectBlocks(text string) []block {
	var blocks []block
	var current *block
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		// FEATURES/ORIGIN and the sequence data that follows carry no
		// metadata; stop at either.
		if strings.HasPrefix(line, "FEATURES") || strings.HasPrefix(line, "ORIGIN") {
			break
		}
		if line[0] != ' ' && line[0] != '\t' {
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			keyword := fields[0]
			rest := strings.TrimSpace(strings.TrimPrefix(line, keyword))
			blocks = append(blocks, block{keyword: keyword})
			current = &blocks[len(blocks)-1]
			if rest != "" {
				current.lines = append(current.lines, rest)
			}
			continue
		}
		if current != nil {
			current.lines = append(current.lines, line)
		}
	}
	return blocks
}

// joined returns the block content as one space-joined string.
func joined(b block) string {
	parts := make([]string, 0, len(b.lines))
	for _, line := range b.lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ")
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func ptr(s string) *string {
	return &s
}

// parseDBLink extracts BioSample/BioProject cross-references. Unknown link
// kinds are ignored.
func parseDBLink(b block, rec *types.NormalizedRecord) {
	for _, line := range b.lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "BioSample:"):
			rec.DBLink.BioSample = ptr(strings.TrimSpace(strings.TrimPrefix(trimmed, "BioSample:")))
		case strings.HasPrefix(trimmed, "BioProject:"):
			rec.DBLink.BioProject = ptr(strings.TrimSpace(strings.TrimPrefix(trimmed, "BioProject:")))
		}
	}
}

// parseKeywords splits the semicolon-separated keyword list. A lone "."
// means the record carries no keywords.
func parseKeywords(b block, rec *types.NormalizedRecord) {
	text := strings.TrimSuffix(joined(b), ".")
	for _, kw := range strings.Split(text, ";") {
		if kw = strings.TrimSpace(kw); kw != "" {
			rec.Keywords = append(rec.Keywords, types.Keyword{Text: kw})
		}
	}
}

// parseSource handles the SOURCE block with its nested ORGANISM sub-block:
// the source string, the organism name, and the semicolon-separated taxonomy
// lineage (root to leaf) terminated by a period.
func parseSource(b block, rec *types.NormalizedRecord) {
	var sourceParts []string
	var lineageParts []string
	inOrganism := false

	for _, line := range b.lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "ORGANISM") {
			inOrganism = true
			rec.Organism = strings.TrimSpace(strings.TrimPrefix(trimmed, "ORGANISM"))
			continue
		}
		if inOrganism {
			lineageParts = append(lineageParts, trimmed)
		} else {
			sourceParts = append(sourceParts, trimmed)
		}
	}

	if src := strings.Join(sourceParts, " "); src != "" {
		rec.Source = ptr(src)
	}

	lineage := strings.Join(lineageParts, " ")
	if lineage == "" {
		return
	}
	if !strings.HasSuffix(strings.TrimSpace(lineage), ".") {
		// Truncated taxonomy line: keep what parsed, record the gap.
		rec.Warnings = append(rec.Warnings, types.ParseWarning{Block: "ORGANISM", Message: "taxonomy lineage truncated"})
	}
	lineage = strings.TrimSuffix(strings.TrimSpace(lineage), ".")
	for _, taxon := range strings.Split(lineage, ";") {
		if taxon = strings.TrimSpace(taxon); taxon != "" {
			rec.Taxonomy = append(rec.Taxonomy, taxon)
		}
	}
}

// parseReference parses one REFERENCE block with its AUTHORS/TITLE/JOURNAL/
// PUBMED sub-fields. A block with none of them is considered unparseable.
func parseReference(b block) (types.Reference, bool) {
	var ref types.Reference
	var field string
	var buf []string

	flush := func() {
		text := strings.TrimSpace(strings.Join(buf, " "))
		buf = buf[:0]
		if text == "" {
			return
		}
		switch field {
		case "AUTHORS":
			ref.Authors = ptr(text)
		case "TITLE":
			ref.Title = ptr(text)
		case "JOURNAL":
			ref.Journal = ptr(text)
		case "PUBMED":
			ref.PubMed = ptr(firstToken(text))
		}
	}

	for _, line := range b.lines {
		trimmed := strings.TrimSpace(line)
		fields := strings.Fields(trimmed)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "AUTHORS", "TITLE", "JOURNAL", "PUBMED":
			flush()
			field = fields[0]
			buf = append(buf, strings.TrimSpace(strings.TrimPrefix(trimmed, fields[0])))
		default:
			if field != "" {
				buf = append(buf, trimmed)
			}
		}
	}
	flush()

	ok := ref.Authors != nil || ref.Title != nil || ref.Journal != nil || ref.PubMed != nil
	return ref, ok
}

// BackfillKeywords synthesizes a keyword from the assembly completeness
// level when the flatfile carried none. Synthesized keywords are tagged so
// they are never mistaken for source-reported data.
func BackfillKeywords(rec *types.NormalizedRecord, level string) {
	if rec == nil || len(rec.Keywords) > 0 || level == "" {
		return
	}
	rec.Keywords = append(rec.Keywords, types.Keyword{
		Text:        strings.ToLower(level),
		Synthesized: true,
	})
}
