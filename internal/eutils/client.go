package eutils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonathan/genome-harvester/internal/ratelimit"
)

// DefaultBaseURL is the production E-utilities endpoint.
const DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// DefaultTimeout is the per-request HTTP timeout.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBatchSize caps how many identifiers a single call may carry.
const DefaultMaxBatchSize = 20

// Upstream catalog names.
const (
	DBAssembly   = "assembly"
	DBNucleotide = "nuccore"
)

// Link names for cross-catalog resolution.
const (
	LinkAssemblyToRefSeq     = "assembly_nuccore_refseq"
	LinkAssemblyToINSDC      = "assembly_nuccore_insdc"
	LinkNucleotideToAssembly = "nuccore_assembly"
)

// Config holds the client settings.
type Config struct {
	BaseURL      string
	Tool         string
	Email        string
	APIKey       string
	Timeout      time.Duration
	MaxBatchSize int
	Policy       RetryPolicy
}

// DefaultClientConfig returns sensible defaults for the production endpoint.
func DefaultClientConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		Tool:         "genome-harvester",
		Email:        "user@example.com",
		Timeout:      DefaultTimeout,
		MaxBatchSize: DefaultMaxBatchSize,
		Policy:       DefaultRetryPolicy(),
	}
}

// Response is the raw payload of a successful upstream call, with the number
// of attempts it took.
type Response struct {
	Body     []byte
	Attempts int
}

// Client performs E-utilities calls through the shared rate limiter and
// circuit breaker, retrying retryable failures with exponential backoff.
// The client does not log; it records every call on its Metrics instead.
type Client struct {
	cfg        Config
	host       string
	httpClient *http.Client
	coord      *ratelimit.Coordinator
	metrics    *Metrics
}

// NewClient creates a client. The coordinator is required; metrics may be
// nil to disable observation.
func NewClient(cfg Config, coord *ratelimit.Coordinator, metrics *Metrics) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = DefaultRetryPolicy()
	}
	if coord == nil {
		return nil, fmt.Errorf("rate limit coordinator is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	return &Client{
		cfg:        cfg,
		host:       parsed.Host,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		coord:      coord,
		metrics:    metrics,
	}, nil
}

// MaxBatchSize returns the configured identifier batch cap.
func (c *Client) MaxBatchSize() int {
	return c.cfg.MaxBatchSize
}

// withIdentity adds the tool/email/api-key parameters every call carries.
func (c *Client) withIdentity(params url.Values) url.Values {
	params.Set("tool", c.cfg.Tool)
	params.Set("email", c.cfg.Email)
	if c.cfg.APIKey != "" {
		params.Set("api_key", c.cfg.APIKey)
	}
	return params
}

// Call performs one upstream GET through the rate limiter with retries.
// Retryable conditions are HTTP 429, 5xx and transport errors; other
// statuses fail immediately. The returned error is a *FetchFailure, a
// *ratelimit.CircuitOpenError, or a context error.
func (c *Client) Call(ctx context.Context, endpoint string, params url.Values) (*Response, error) {
	start := time.Now()

	if err := c.coord.Acquire(ctx, c.host); err != nil {
		outcome := OutcomeCanceled
		var open *ratelimit.CircuitOpenError
		if errors.As(err, &open) {
			outcome = OutcomeCircuitOpen
		}
		c.metrics.ObserveCall(endpoint, outcome, 0, time.Since(start))
		return nil, err
	}

	reqURL := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + endpoint + "?" + c.withIdentity(params).Encode()

	var lastStatus int
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < c.cfg.Policy.MaxAttempts; attempt++ {
		attempts++

		body, status, err := c.do(ctx, reqURL)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				c.metrics.ObserveCall(endpoint, OutcomeCanceled, attempts, time.Since(start))
				return nil, ctx.Err()
			}
			lastStatus, lastErr = 0, err
		case status >= 200 && status < 300:
			c.coord.RecordSuccess(c.host)
			c.metrics.ObserveCall(endpoint, OutcomeSuccess, attempts, time.Since(start))
			return &Response{Body: body, Attempts: attempts}, nil
		case !retryableStatus(status):
			c.coord.RecordFailure(c.host)
			c.metrics.ObserveCall(endpoint, OutcomeClientError, attempts, time.Since(start))
			return nil, &FetchFailure{Endpoint: endpoint, StatusCode: status, Attempts: attempts}
		default:
			lastStatus, lastErr = status, nil
		}

		if attempt < c.cfg.Policy.MaxAttempts-1 {
			timer := time.NewTimer(c.cfg.Policy.Delay(attempt))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				c.metrics.ObserveCall(endpoint, OutcomeCanceled, attempts, time.Since(start))
				return nil, ctx.Err()
			}
		}
	}

	c.coord.RecordFailure(c.host)
	outcome := OutcomeServerError
	if lastStatus == 0 {
		outcome = OutcomeTransportError
	}
	c.metrics.ObserveCall(endpoint, outcome, attempts, time.Since(start))
	return nil, &FetchFailure{Endpoint: endpoint, StatusCode: lastStatus, Attempts: attempts, Cause: lastErr}
}

// do executes a single HTTP attempt.
func (c *Client) do(ctx context.Context, reqURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// checkBatch enforces the identifier batch cap.
func (c *Client) checkBatch(ids []string) error {
	if len(ids) > c.cfg.MaxBatchSize {
		return &BatchTooLargeError{Size: len(ids), Max: c.cfg.MaxBatchSize}
	}
	return nil
}

// Search runs an esearch query against a catalog and returns the matching
// internal identifiers.
func (c *Client) Search(ctx context.Context, db, term string, retmax int) ([]string, error) {
	params := url.Values{}
	params.Set("db", db)
	params.Set("term", term)
	params.Set("retmax", fmt.Sprintf("%d", retmax))
	params.Set("retmode", "json")

	resp, err := c.Call(ctx, "esearch.fcgi", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, &DecodeError{Endpoint: "esearch.fcgi", Cause: err}
	}
	return payload.ESearchResult.IDList, nil
}

// AssemblyDoc is the loosely-typed assembly summary shape, mapped to fixed
// fields at this boundary so downstream code never sees the raw payload.
type AssemblyDoc struct {
	Accession      string `json:"assemblyaccession"`
	Name           string `json:"assemblyname"`
	Status         string `json:"assemblystatus"`
	RefSeqCategory string `json:"refseq_category"`
	Submitter      string `json:"submitter"`
	SeqReleaseDate string `json:"seqreleasedate"`
}

// SequenceDoc is the nucleotide summary shape used for representative
// sequence selection.
type SequenceDoc struct {
	Caption          string `json:"caption"`
	AccessionVersion string `json:"accessionversion"`
	Title            string `json:"title"`
	Length           int64  `json:"slen"`
	Genome           string `json:"genome"`
	Completeness     string `json:"completeness"`
}

// SummarizeAssemblies fetches assembly summary documents keyed by internal
// identifier.
func (c *Client) SummarizeAssemblies(ctx context.Context, ids []string) (map[string]AssemblyDoc, error) {
	raw, err := c.summarize(ctx, DBAssembly, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]AssemblyDoc, len(raw))
	for uid, doc := range raw {
		var parsed AssemblyDoc
		if err := json.Unmarshal(doc, &parsed); err != nil {
			return nil, &DecodeError{Endpoint: "esummary.fcgi", Cause: err}
		}
		out[uid] = parsed
	}
	return out, nil
}

// SummarizeSequences fetches nucleotide summary documents keyed by internal
// identifier.
func (c *Client) SummarizeSequences(ctx context.Context, ids []string) (map[string]SequenceDoc, error) {
	raw, err := c.summarize(ctx, DBNucleotide, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]SequenceDoc, len(raw))
	for uid, doc := range raw {
		var parsed SequenceDoc
		if err := json.Unmarshal(doc, &parsed); err != nil {
			return nil, &DecodeError{Endpoint: "esummary.fcgi", Cause: err}
		}
		out[uid] = parsed
	}
	return out, nil
}

// summarize runs esummary and returns the per-identifier documents still raw.
func (c *Client) summarize(ctx context.Context, db string, ids []string) (map[string]json.RawMessage, error) {
	if err := c.checkBatch(ids); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("db", db)
	params.Set("id", strings.Join(ids, ","))
	params.Set("retmode", "json")

	resp, err := c.Call(ctx, "esummary.fcgi", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, &DecodeError{Endpoint: "esummary.fcgi", Cause: err}
	}
	// The "uids" key is an index array, not a document.
	delete(payload.Result, "uids")
	return payload.Result, nil
}

// CrossLink resolves identifiers from one catalog to another via elink,
// returning target identifiers keyed by source identifier.
func (c *Client) CrossLink(ctx context.Context, fromDB, toDB string, ids []string, linkName string) (map[string][]string, error) {
	if err := c.checkBatch(ids); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("dbfrom", fromDB)
	params.Set("db", toDB)
	for _, id := range ids {
		params.Add("id", id)
	}
	if linkName != "" {
		params.Set("linkname", linkName)
	}
	params.Set("retmode", "json")

	resp, err := c.Call(ctx, "elink.fcgi", params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		LinkSets []struct {
			IDs        []string `json:"ids"`
			LinkSetDBs []struct {
				LinkName string   `json:"linkname"`
				Links    []string `json:"links"`
			} `json:"linksetdbs"`
		} `json:"linksets"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, &DecodeError{Endpoint: "elink.fcgi", Cause: err}
	}

	out := make(map[string][]string)
	for _, ls := range payload.LinkSets {
		if len(ls.IDs) == 0 {
			continue
		}
		source := ls.IDs[0]
		for _, db := range ls.LinkSetDBs {
			if linkName != "" && db.LinkName != linkName {
				continue
			}
			out[source] = append(out[source], db.Links...)
		}
	}
	return out, nil
}

// FetchRecords retrieves full flatfile records for the given nucleotide
// identifiers as one text payload with one record per identifier.
func (c *Client) FetchRecords(ctx context.Context, ids []string) (string, error) {
	if err := c.checkBatch(ids); err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("db", DBNucleotide)
	params.Set("id", strings.Join(ids, ","))
	params.Set("rettype", "gb")
	params.Set("retmode", "text")

	resp, err := c.Call(ctx, "efetch.fcgi", params)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// Batches splits identifiers into chunks no larger than size.
func Batches(ids []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
