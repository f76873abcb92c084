// Package resolver turns heterogeneous user input (free-text queries or raw
// accession lists) into a deduplicated, preference-ordered sequence of fetch
// targets, and selects representative sequences when cross-linking between
// the assembly and nucleotide catalogs.
package resolver

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jonathan/genome-harvester/internal/eutils"
	"github.com/jonathan/genome-harvester/internal/types"
)

// Upstream is the slice of the E-utilities client the resolver needs.
type Upstream interface {
	Search(ctx context.Context, db, term string, retmax int) ([]string, error)
	SummarizeAssemblies(ctx context.Context, ids []string) (map[string]eutils.AssemblyDoc, error)
	SummarizeSequences(ctx context.Context, ids []string) (map[string]eutils.SequenceDoc, error)
	CrossLink(ctx context.Context, fromDB, toDB string, ids []string, linkName string) (map[string][]string, error)
	MaxBatchSize() int
}

// ResolutionError reports a query-mode failure before any target was
// produced. It marks the whole job failed, unlike per-item errors.
type ResolutionError struct {
	Message string
	Cause   error
}

func (e *ResolutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("resolution error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("resolution error: %s", e.Message)
}

func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// Accession shape patterns. Assembly accessions are GCF_ (curated RefSeq) or
// GCA_ (submitted GenBank); nucleotide accessions are either RefSeq-style
// (NC_000913.3, NZ_CP017100.1) or INSDC submission-style (U00096.3,
// CP017100.1, AE005174.2).
var (
	assemblyPattern   = regexp.MustCompile(`^GC[AF]_\d{9}(?:\.\d+)?$`)
	refseqSeqPattern  = regexp.MustCompile(`^(?:NC|NZ|NG|NT|NW|AC)_[A-Z]{0,4}\d+(?:\.\d+)?$`)
	insdcSeqPattern   = regexp.MustCompile(`^[A-Z]{1,2}\d{5,8}(?:\.\d+)?$`)
	refseqStylePrefix = regexp.MustCompile(`^[A-Z]{2}_`)
)

// Classify maps an input token to its catalog by prefix shape. Tokens that
// match nothing are Unresolved; they are reported, never silently dropped.
func Classify(token string) types.TargetKind {
	token = strings.TrimSpace(token)
	switch {
	case assemblyPattern.MatchString(token):
		return types.TargetAssembly
	case refseqSeqPattern.MatchString(token), insdcSeqPattern.MatchString(token):
		return types.TargetNucleotide
	default:
		return types.TargetUnresolved
	}
}

// TargetsFromAccessions classifies an accession list into fetch targets,
// preserving input order. Duplicate tokens are collapsed to their first
// occurrence.
func TargetsFromAccessions(accessions []string, pref types.SourcePreference) []types.FetchTarget {
	seen := make(map[string]bool, len(accessions))
	targets := make([]types.FetchTarget, 0, len(accessions))
	for _, raw := range accessions {
		token := strings.TrimSpace(raw)
		if token == "" || seen[token] {
			continue
		}
		seen[token] = true
		targets = append(targets, types.FetchTarget{
			Identifier: token,
			Kind:       Classify(token),
			Preference: pref,
		})
	}
	return targets
}

// BuildSearchTerm assembles the structured search expression for query mode:
// the organism term AND'ed with the OR'd keyword set, the completeness
// filter, and the latest-version filter.
func BuildSearchTerm(organism string, keywords []string, filters types.QueryFilters) string {
	parts := []string{fmt.Sprintf("%s[Organism]", organism)}

	var kwTerms []string
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			kwTerms = append(kwTerms, fmt.Sprintf("%s[All Fields]", kw))
		}
	}
	if len(kwTerms) == 1 {
		parts = append(parts, kwTerms[0])
	} else if len(kwTerms) > 1 {
		parts = append(parts, "("+strings.Join(kwTerms, " OR ")+")")
	}

	var levelTerms []string
	for _, level := range filters.AssemblyLevel {
		levelTerms = append(levelTerms, fmt.Sprintf("%q[Assembly Level]", string(level)))
	}
	if len(levelTerms) == 1 {
		parts = append(parts, levelTerms[0])
	} else if len(levelTerms) > 1 {
		parts = append(parts, "("+strings.Join(levelTerms, " OR ")+")")
	}

	if filters.Latest() {
		parts = append(parts, "latest[filter]")
	}

	return strings.Join(parts, " AND ")
}

// Candidate is one assembly produced by query-mode resolution: the catalog's
// internal identifier plus its summary document.
type Candidate struct {
	UID string
	Doc eutils.AssemblyDoc
}

// DefaultQueryLimit bounds query-mode result sets when the request does not
// set one.
const DefaultQueryLimit = 20

// QueryTargets resolves a free-text query into an ordered, deduplicated
// candidate list. Search requests limit*2 identifiers as headroom for the
// preference filtering that follows; the final list is truncated to limit
// after sorting, which is where ordering becomes a correctness contract.
func QueryTargets(ctx context.Context, up Upstream, req *types.QueryJobRequest) ([]Candidate, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	term := BuildSearchTerm(req.Organism, req.Keywords, req.Filters)
	ids, err := up.Search(ctx, eutils.DBAssembly, term, limit*2)
	if err != nil {
		return nil, &ResolutionError{Message: "assembly search failed", Cause: err}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	docs := make(map[string]eutils.AssemblyDoc, len(ids))
	for _, batch := range eutils.Batches(ids, up.MaxBatchSize()) {
		part, err := up.SummarizeAssemblies(ctx, batch)
		if err != nil {
			return nil, &ResolutionError{Message: "assembly summary failed", Cause: err}
		}
		for uid, doc := range part {
			docs[uid] = doc
		}
	}

	candidates := make([]Candidate, 0, len(docs))
	for _, uid := range ids {
		doc, ok := docs[uid]
		if !ok || doc.Accession == "" {
			continue
		}
		candidates = append(candidates, Candidate{UID: uid, Doc: doc})
	}

	SortCandidates(candidates, req.Filters.Preference(), req.Filters.AssemblyLevel)
	candidates = DedupCandidates(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// SortCandidates orders candidates by the deterministic preference key:
// (source preference desc, version desc, completeness match desc,
// identifier asc). Repeated runs over the same input must produce identical
// ordering, so every tie breaks on the accession string.
func SortCandidates(candidates []Candidate, pref types.SourcePreference, levels []types.AssemblyLevel) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if ra, rb := sourceRank(a.Doc.Accession, pref), sourceRank(b.Doc.Accession, pref); ra != rb {
			return ra > rb
		}
		if va, vb := accessionVersion(a.Doc.Accession), accessionVersion(b.Doc.Accession); va != vb {
			return va > vb
		}
		if ca, cb := levelMatch(a.Doc.Status, levels), levelMatch(b.Doc.Status, levels); ca != cb {
			return ca > cb
		}
		return a.Doc.Accession < b.Doc.Accession
	})
}

// DedupCandidates collapses candidates that share a canonical assembly,
// keeping the first (highest-preference after sorting) representative.
func DedupCandidates(candidates []Candidate) []Candidate {
	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		key := CanonicalAssemblyKey(c.Doc.Accession)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// CanonicalAssemblyKey strips the catalog prefix and version from an
// assembly accession, so GCF_000005845.2 and GCA_000005845.2 collapse to
// the same genome.
func CanonicalAssemblyKey(accession string) string {
	key := accession
	if idx := strings.IndexByte(key, '_'); idx >= 0 && strings.HasPrefix(key, "GC") {
		key = key[idx+1:]
	}
	if idx := strings.IndexByte(key, '.'); idx >= 0 {
		key = key[:idx]
	}
	return key
}

// sourceRank ranks curated RefSeq representations above primary GenBank
// submissions unless the caller asked for GenBank. PreferEither keeps the
// curated-first default so ordering stays deterministic.
func sourceRank(accession string, pref types.SourcePreference) int {
	isRefSeq := strings.HasPrefix(accession, "GCF_")
	if pref == types.PreferGenBank {
		if isRefSeq {
			return 0
		}
		return 1
	}
	if isRefSeq {
		return 1
	}
	return 0
}

// accessionVersion extracts the numeric version suffix, zero when absent.
func accessionVersion(accession string) int {
	idx := strings.LastIndexByte(accession, '.')
	if idx < 0 {
		return 0
	}
	v, err := strconv.Atoi(accession[idx+1:])
	if err != nil {
		return 0
	}
	return v
}

// levelMatch reports whether the assembly's completeness level is one the
// request asked for.
func levelMatch(status string, levels []types.AssemblyLevel) int {
	for _, level := range levels {
		if strings.EqualFold(status, string(level)) {
			return 1
		}
	}
	return 0
}

// Representative is the sequence chosen to stand for an assembly.
type Representative struct {
	UID string
	Doc eutils.SequenceDoc
	// Incomplete marks a degraded selection: no chromosome-level sequence
	// existed and the largest scaffold was taken instead.
	Incomplete bool
}

// SelectRepresentative picks the sequence that best represents an assembly:
// chromosome-level over scaffold/contig, RefSeq-style accessions over
// submission-style ones, then the longest sequence, with the identifier as
// the final deterministic tie-break. ok is false when docs is empty.
func SelectRepresentative(docs map[string]eutils.SequenceDoc) (rep Representative, ok bool) {
	if len(docs) == 0 {
		return Representative{}, false
	}

	type scored struct {
		uid string
		doc eutils.SequenceDoc
	}
	ranked := make([]scored, 0, len(docs))
	for uid, doc := range docs {
		ranked = append(ranked, scored{uid: uid, doc: doc})
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if ca, cb := isChromosome(a.doc), isChromosome(b.doc); ca != cb {
			return ca
		}
		if ra, rb := isRefSeqStyle(a.doc), isRefSeqStyle(b.doc); ra != rb {
			return ra
		}
		if a.doc.Length != b.doc.Length {
			return a.doc.Length > b.doc.Length
		}
		return a.uid < b.uid
	})

	best := ranked[0]
	return Representative{
		UID:        best.uid,
		Doc:        best.doc,
		Incomplete: !isChromosome(best.doc),
	}, true
}

// isChromosome reports whether a sequence summary describes a chromosome-
// level sequence rather than a scaffold or contig.
func isChromosome(doc eutils.SequenceDoc) bool {
	if strings.EqualFold(doc.Genome, "chromosome") {
		return true
	}
	title := strings.ToLower(doc.Title)
	if strings.Contains(title, "scaffold") || strings.Contains(title, "contig") {
		return false
	}
	return strings.Contains(title, "chromosome") || strings.Contains(title, "complete genome")
}

// isRefSeqStyle reports whether the sequence accession uses the curated
// two-letter-underscore prefix (NC_, NZ_, ...).
func isRefSeqStyle(doc eutils.SequenceDoc) bool {
	acc := doc.AccessionVersion
	if acc == "" {
		acc = doc.Caption
	}
	return refseqStylePrefix.MatchString(acc)
}
