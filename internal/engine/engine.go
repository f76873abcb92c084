// Package engine owns the full lifecycle of harvesting jobs: it drives the
// resolver, the upstream client and the parser for every fetch target, and
// tracks progress with partial-failure semantics.
package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/genome-harvester/internal/eutils"
	"github.com/jonathan/genome-harvester/internal/genbank"
	"github.com/jonathan/genome-harvester/internal/resolver"
	"github.com/jonathan/genome-harvester/internal/types"
)

// Upstream is everything the engine needs from the E-utilities client.
type Upstream interface {
	resolver.Upstream
	FetchRecords(ctx context.Context, ids []string) (string, error)
}

// Archive receives terminal jobs for durable storage. The in-memory store
// stays the correctness source; archiving is best-effort.
type Archive interface {
	ArchiveJob(ctx context.Context, job *types.Job) error
}

// Config holds engine settings.
type Config struct {
	Concurrency int           // worker pool size per job, default 6
	JobTimeout  time.Duration // overall job deadline, default 15m
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		Concurrency: 6,
		JobTimeout:  15 * time.Minute,
	}
}

// Engine coordinates job execution. Multiple jobs run concurrently; they
// share the upstream client (and through it the process-wide rate limiter
// and circuit breaker), while each job's state is owned by its own run.
type Engine struct {
	cfg     Config
	client  Upstream
	store   *Store
	metrics *Metrics
	archive Archive

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an engine. Metrics and archive may be nil.
func New(cfg Config, client Upstream, store *Store, metrics *Metrics, archive Archive) *Engine {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultConfig().JobTimeout
	}
	return &Engine{
		cfg:     cfg,
		client:  client,
		store:   store,
		metrics: metrics,
		archive: archive,
		cancels: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Store exposes the job registry for read access.
func (e *Engine) Store() *Store {
	return e.store
}

// SubmitQuery starts a free-text query job and returns its initial snapshot.
func (e *Engine) SubmitQuery(req *types.QueryJobRequest) (types.Snapshot, error) {
	if err := req.Validate(); err != nil {
		return types.Snapshot{}, err
	}
	snap := e.store.create(types.ModeQuery)
	e.start(snap.ID, func(ctx context.Context) {
		e.runQuery(ctx, snap.ID, req)
	})
	return snap, nil
}

// SubmitAccessions starts an accession list job and returns its initial
// snapshot.
func (e *Engine) SubmitAccessions(req *types.AccessionJobRequest) (types.Snapshot, error) {
	if err := req.Validate(); err != nil {
		return types.Snapshot{}, err
	}
	snap := e.store.create(types.ModeAccessionLst)
	e.start(snap.ID, func(ctx context.Context) {
		e.runAccessions(ctx, snap.ID, req)
	})
	return snap, nil
}

// Cancel requests cancellation of a job. In-flight item fetches drain; no
// new items are started. Canceling a terminal job is a no-op.
func (e *Engine) Cancel(id uuid.UUID) error {
	if _, err := e.store.Snapshot(id); err != nil {
		return err
	}
	e.mu.Lock()
	cancel := e.cancels[id]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Wait blocks until all running jobs have finished. Used on shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// start launches the job goroutine with its deadline context.
func (e *Engine) start(id uuid.UUID, run func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.JobTimeout)

	e.mu.Lock()
	e.cancels[id] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			cancel()
			e.mu.Lock()
			delete(e.cancels, id)
			e.mu.Unlock()
		}()
		run(ctx)
	}()
}

// Per-target stages. Each target walks an explicit state machine so partial
// progress (cross-link done, fetch pending) stays inspectable.
type stage int

const (
	stagePending  stage = iota // nothing resolved yet
	stageResolved              // assembly identity known (query mode entry)
	stageLinked                // representative sequence chosen
	stageDone                  // record parsed
	stageFailed                // per-item failure recorded
)

// item is the mutable per-target work state. Mutated only by the single
// worker processing it; phases are separated by errgroup barriers.
type item struct {
	index      int
	target     types.FetchTarget
	stage      stage
	assemblyID string
	assembly   *eutils.AssemblyDoc
	sequenceID string
	incomplete bool
	record     *types.NormalizedRecord
	failure    string
}

// fail moves the item into its terminal failed stage.
func (it *item) fail(reason string) {
	it.stage = stageFailed
	it.failure = reason
}

// runAccessions executes an accession-list job.
func (e *Engine) runAccessions(ctx context.Context, id uuid.UUID, req *types.AccessionJobRequest) {
	pref := req.Filters.Preference()
	targets := resolver.TargetsFromAccessions(req.Accessions, pref)
	if len(targets) == 0 {
		e.finishFailed(id, types.ModeAccessionLst, "no usable accessions in input")
		return
	}

	items := make([]*item, len(targets))
	for i, t := range targets {
		items[i] = &item{index: i, target: t}
		if t.Kind == types.TargetUnresolved {
			items[i].fail("unrecognized accession format")
		}
	}

	e.store.update(id, func(j *types.Job) {
		j.Status = types.StatusRunning
		j.Progress.Total = len(items)
	})
	log.Printf("[engine] job %s running: %d target(s)", id, len(items))

	// Phase 1: cross-link resolution, one worker per target.
	e.forEachItem(ctx, id, items, func(ctx context.Context, it *item) {
		e.resolveItem(ctx, it)
	})

	items = e.dedupItems(id, items)
	e.fetchAndFinish(ctx, id, types.ModeAccessionLst, items)
}

// runQuery executes a free-text query job.
func (e *Engine) runQuery(ctx context.Context, id uuid.UUID, req *types.QueryJobRequest) {
	e.store.update(id, func(j *types.Job) {
		j.Status = types.StatusRunning
	})

	candidates, err := resolver.QueryTargets(ctx, e.client, req)
	if err != nil {
		// Resolver fault before any target exists marks the job failed,
		// unless the deadline or a cancel got there first.
		if ctx.Err() != nil {
			e.finish(id, types.ModeQuery, nil, types.StatusCanceled)
			return
		}
		e.finishFailed(id, types.ModeQuery, err.Error())
		return
	}

	items := make([]*item, len(candidates))
	for i, c := range candidates {
		doc := c.Doc
		items[i] = &item{
			index: i,
			target: types.FetchTarget{
				Identifier: doc.Accession,
				Kind:       types.TargetAssembly,
				Preference: req.Filters.Preference(),
			},
			stage:      stageResolved,
			assemblyID: c.UID,
			assembly:   &doc,
		}
	}

	e.store.update(id, func(j *types.Job) {
		j.Progress.Total = len(items)
	})
	log.Printf("[engine] job %s running: %d candidate assemblies", id, len(items))

	// Candidates already carry their assembly identity; only the sequence
	// cross-link remains before fetching.
	e.forEachItem(ctx, id, items, func(ctx context.Context, it *item) {
		e.linkAssembly(ctx, it)
	})

	e.fetchAndFinish(ctx, id, types.ModeQuery, items)
}

// forEachItem runs fn for every pending item on the bounded worker pool.
// Items are skipped, not failed, once the job context is done; they stay
// pending and are reported through the Canceled terminal state.
func (e *Engine) forEachItem(ctx context.Context, id uuid.UUID, items []*item, fn func(context.Context, *item)) {
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)

	for _, it := range items {
		if it.stage == stageFailed {
			e.markErrored(id, it)
			continue
		}
		it := it
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			fn(ctx, it)
			if it.stage == stageFailed {
				e.markErrored(id, it)
			}
			return nil
		})
	}
	// Workers never return errors; per-item failures are recorded on the
	// items themselves.
	_ = g.Wait()
}

// markErrored bumps the job's errored counter for a failed item.
func (e *Engine) markErrored(id uuid.UUID, it *item) {
	e.metrics.RecordItem("errored")
	e.store.update(id, func(j *types.Job) {
		j.Progress.Errored++
	})
}

// resolveItem advances one accession-mode target from pending to linked:
// assembly targets are looked up, summarized and cross-linked; sequence
// targets fetch directly and back-link to their owning assembly best-effort.
func (e *Engine) resolveItem(ctx context.Context, it *item) {
	switch it.target.Kind {
	case types.TargetAssembly:
		uids, err := e.client.Search(ctx, eutils.DBAssembly,
			fmt.Sprintf("%s[Assembly Accession]", it.target.Identifier), 1)
		if err != nil {
			it.fail(fmt.Sprintf("assembly lookup failed: %v", err))
			return
		}
		if len(uids) == 0 {
			it.fail("assembly not found")
			return
		}
		it.assemblyID = uids[0]

		docs, err := e.client.SummarizeAssemblies(ctx, uids[:1])
		if err != nil {
			it.fail(fmt.Sprintf("assembly summary failed: %v", err))
			return
		}
		if doc, ok := docs[it.assemblyID]; ok {
			it.assembly = &doc
		}
		it.stage = stageResolved
		e.linkAssembly(ctx, it)

	case types.TargetNucleotide:
		// Sequence accessions fetch directly by accession.
		it.sequenceID = it.target.Identifier
		it.stage = stageLinked
		e.backLinkAssembly(ctx, it)
	}
}

// linkAssembly chooses the representative sequence for an assembly target.
// The preferred link catalog is tried first; a scaffold-only assembly
// degrades to its largest scaffold and marks the record incomplete.
func (e *Engine) linkAssembly(ctx context.Context, it *item) {
	linkNames := []string{eutils.LinkAssemblyToRefSeq, eutils.LinkAssemblyToINSDC}
	if it.target.Preference == types.PreferGenBank {
		linkNames = []string{eutils.LinkAssemblyToINSDC, eutils.LinkAssemblyToRefSeq}
	}

	for _, linkName := range linkNames {
		links, err := e.client.CrossLink(ctx, eutils.DBAssembly, eutils.DBNucleotide,
			[]string{it.assemblyID}, linkName)
		if err != nil {
			it.fail(fmt.Sprintf("sequence cross-link failed: %v", err))
			return
		}
		seqIDs := links[it.assemblyID]
		if len(seqIDs) == 0 {
			continue
		}

		docs := make(map[string]eutils.SequenceDoc, len(seqIDs))
		for _, batch := range eutils.Batches(seqIDs, e.client.MaxBatchSize()) {
			part, err := e.client.SummarizeSequences(ctx, batch)
			if err != nil {
				it.fail(fmt.Sprintf("sequence summary failed: %v", err))
				return
			}
			for uid, doc := range part {
				docs[uid] = doc
			}
		}

		rep, ok := resolver.SelectRepresentative(docs)
		if !ok {
			continue
		}
		it.sequenceID = rep.UID
		it.incomplete = rep.Incomplete
		it.stage = stageLinked
		return
	}

	it.fail("no representative sequence found")
}

// backLinkAssembly recovers assembly-level fields for a sequence target.
// This is best-effort; absence is not an error.
func (e *Engine) backLinkAssembly(ctx context.Context, it *item) {
	uids, err := e.client.Search(ctx, eutils.DBNucleotide,
		fmt.Sprintf("%s[Accession]", strings.SplitN(it.target.Identifier, ".", 2)[0]), 1)
	if err != nil || len(uids) == 0 {
		return
	}
	links, err := e.client.CrossLink(ctx, eutils.DBNucleotide, eutils.DBAssembly,
		uids[:1], eutils.LinkNucleotideToAssembly)
	if err != nil {
		return
	}
	asmIDs := links[uids[0]]
	if len(asmIDs) == 0 {
		return
	}
	docs, err := e.client.SummarizeAssemblies(ctx, asmIDs[:1])
	if err != nil {
		return
	}
	if doc, ok := docs[asmIDs[0]]; ok {
		it.assemblyID = asmIDs[0]
		it.assembly = &doc
	}
}

// dedupItems collapses linked items that resolved to the same canonical
// assembly, keeping the higher-preference one by the resolver's sort key.
// The job total shrinks accordingly before fetching begins.
func (e *Engine) dedupItems(id uuid.UUID, items []*item) []*item {
	best := make(map[string]*item)
	for _, it := range items {
		if it.stage != stageLinked && it.stage != stageResolved {
			continue
		}
		key := "seq:" + it.sequenceID
		if it.assembly != nil && it.assembly.Accession != "" {
			key = resolver.CanonicalAssemblyKey(it.assembly.Accession)
		}
		current, ok := best[key]
		if !ok || preferItem(it, current) {
			best[key] = it
		}
	}

	kept := items[:0]
	dropped := 0
	for _, it := range items {
		if it.stage == stageLinked || it.stage == stageResolved {
			key := "seq:" + it.sequenceID
			if it.assembly != nil && it.assembly.Accession != "" {
				key = resolver.CanonicalAssemblyKey(it.assembly.Accession)
			}
			if best[key] != it {
				dropped++
				continue
			}
		}
		kept = append(kept, it)
	}

	if dropped > 0 {
		e.store.update(id, func(j *types.Job) {
			j.Progress.Total -= dropped
		})
		log.Printf("[engine] job %s: dropped %d duplicate target(s)", id, dropped)
	}
	return kept
}

// preferItem reports whether a should replace b as the representative of a
// canonical assembly, using the same key the resolver sorts with.
func preferItem(a, b *item) bool {
	accA, accB := dedupAccession(a), dedupAccession(b)
	prefA := strings.HasPrefix(accA, "GCF_")
	prefB := strings.HasPrefix(accB, "GCF_")
	if a.target.Preference == types.PreferGenBank {
		prefA, prefB = !prefA, !prefB
	}
	if prefA != prefB {
		return prefA
	}
	return accA < accB
}

func dedupAccession(it *item) string {
	if it.assembly != nil && it.assembly.Accession != "" {
		return it.assembly.Accession
	}
	return it.target.Identifier
}

// fetchAndFinish runs the fetch+parse phase over all linked items and
// finalizes the job. Fetches are batched in resolver order; batches run on
// the worker pool while results are emitted in target order regardless of
// completion order.
func (e *Engine) fetchAndFinish(ctx context.Context, id uuid.UUID, mode types.JobMode, items []*item) {
	var linked []*item
	for _, it := range items {
		if it.stage == stageLinked && it.sequenceID != "" {
			linked = append(linked, it)
		} else if it.stage == stageResolved {
			// Resolved but never linked (canceled mid-phase): leave pending.
			continue
		}
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)

	batchSize := e.client.MaxBatchSize()
	for start := 0; start < len(linked); start += batchSize {
		if ctx.Err() != nil {
			break // stop dispatching new batches, let in-flight ones drain
		}
		end := start + batchSize
		if end > len(linked) {
			end = len(linked)
		}
		batch := linked[start:end]
		g.Go(func() error {
			e.fetchBatch(ctx, id, batch)
			return nil
		})
	}
	_ = g.Wait()

	status := types.StatusSucceeded
	if ctx.Err() != nil {
		status = types.StatusCanceled
	}
	e.finish(id, mode, items, status)
}

// fetchBatch fetches one identifier batch, parses the payload and attaches
// records to the batch items in order.
func (e *Engine) fetchBatch(ctx context.Context, id uuid.UUID, batch []*item) {
	ids := make([]string, len(batch))
	for i, it := range batch {
		ids[i] = it.sequenceID
	}

	payload, err := e.client.FetchRecords(ctx, ids)
	if err != nil {
		for _, it := range batch {
			it.fail(fmt.Sprintf("record fetch failed: %v", err))
			e.markErrored(id, it)
		}
		return
	}

	results := genbank.ParseBatch(payload)
	for i, it := range batch {
		if i >= len(results) {
			it.fail("no record in fetch response")
			e.markErrored(id, it)
			continue
		}
		res := results[i]
		if res.Err != nil {
			it.fail(res.Err.Error())
			e.markErrored(id, it)
			continue
		}

		rec := res.Record
		if it.assembly != nil {
			rec.Assembly = &types.AssemblySummary{
				Accession:      it.assembly.Accession,
				Name:           it.assembly.Name,
				Level:          it.assembly.Status,
				RefSeqCategory: it.assembly.RefSeqCategory,
				Submitter:      it.assembly.Submitter,
				ReleaseDate:    it.assembly.SeqReleaseDate,
			}
			genbank.BackfillKeywords(rec, it.assembly.Status)
		}
		rec.Incomplete = it.incomplete

		it.record = rec
		it.stage = stageDone
		e.metrics.RecordItem("completed")
		e.store.update(id, func(j *types.Job) {
			j.Progress.Completed++
		})
	}
}

// finish writes the ordered result and error lists and seals the job in its
// terminal state. Results follow the resolver's target order, not completion
// order, so repeated runs serialize identically.
func (e *Engine) finish(id uuid.UUID, mode types.JobMode, items []*item, status types.JobStatus) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].index < items[j].index })

	var results []types.NormalizedRecord
	var itemErrors []types.ItemError
	for _, it := range items {
		switch it.stage {
		case stageDone:
			results = append(results, *it.record)
		case stageFailed:
			itemErrors = append(itemErrors, types.ItemError{
				Identifier: it.target.Identifier,
				Reason:     it.failure,
			})
		}
	}

	e.store.update(id, func(j *types.Job) {
		j.Results = results
		j.Errors = itemErrors
		j.Status = status
	})
	e.metrics.RecordJob(mode, status)
	log.Printf("[engine] job %s %s: %d record(s), %d error(s)", id, status, len(results), len(itemErrors))

	e.archiveJob(id)
}

// finishFailed seals a job that faulted before producing any target.
func (e *Engine) finishFailed(id uuid.UUID, mode types.JobMode, reason string) {
	e.store.update(id, func(j *types.Job) {
		j.Errors = append(j.Errors, types.ItemError{Identifier: "", Reason: reason})
		j.Status = types.StatusFailed
	})
	e.metrics.RecordJob(mode, types.StatusFailed)
	log.Printf("[engine] job %s failed: %s", id, reason)

	e.archiveJob(id)
}

// archiveJob hands the terminal job to the durable archive, if configured.
func (e *Engine) archiveJob(id uuid.UUID) {
	if e.archive == nil {
		return
	}
	e.store.mu.RLock()
	job, ok := e.store.jobs[id]
	e.store.mu.RUnlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.archive.ArchiveJob(ctx, job); err != nil {
		log.Printf("[engine] failed to archive job %s: %v", id, err)
	}
}
