package eutils

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/genome-harvester/internal/ratelimit"
)

// fastPolicy keeps retry sleeps short enough for tests while still exercising
// real backoff.
func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BaseDelay:         10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          100 * time.Millisecond,
		JitterFraction:    0.25,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	coord := ratelimit.NewCoordinator(ratelimit.Config{
		Rate:             1000.0,
		Burst:            100,
		BreakerThreshold: 100,
		BreakerCooldown:  time.Hour,
	})

	client, err := NewClient(Config{
		BaseURL:      srv.URL,
		Tool:         "harvester-test",
		Email:        "test@example.com",
		Timeout:      5 * time.Second,
		MaxBatchSize: 3,
		Policy:       fastPolicy(),
	}, coord, nil)
	require.NoError(t, err)
	return client, srv
}

func TestNewClient_RequiresCoordinator(t *testing.T) {
	_, err := NewClient(DefaultClientConfig(), nil, nil)
	assert.Error(t, err)
}

func TestCall_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})

	start := time.Now()
	resp, err := client.Call(context.Background(), "esearch.fcgi", url.Values{})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, int32(3), calls.Load())
	// Two backoff sleeps happened, each at least base*(1-jitter).
	assert.GreaterOrEqual(t, elapsed, fastPolicy().MinElapsed(2))
}

func TestCall_NonRetryableFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := client.Call(context.Background(), "esearch.fcgi", url.Values{})

	var failure *FetchFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, http.StatusBadRequest, failure.StatusCode)
	assert.Equal(t, 1, failure.Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCall_ExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Call(context.Background(), "efetch.fcgi", url.Values{})

	var failure *FetchFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, http.StatusTooManyRequests, failure.StatusCode)
	assert.Equal(t, fastPolicy().MaxAttempts, failure.Attempts)
	assert.Equal(t, int32(fastPolicy().MaxAttempts), calls.Load())
}

func TestCall_CircuitOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	coord := ratelimit.NewCoordinator(ratelimit.Config{
		Rate:             1000.0,
		Burst:            100,
		BreakerThreshold: 1,
		BreakerCooldown:  time.Hour,
	})
	client, err := NewClient(Config{BaseURL: srv.URL, Policy: fastPolicy()}, coord, nil)
	require.NoError(t, err)

	// First call fails with a client error and trips the breaker.
	_, err = client.Call(context.Background(), "esearch.fcgi", url.Values{})
	var failure *FetchFailure
	require.ErrorAs(t, err, &failure)

	// Second call fails fast without reaching the server.
	_, err = client.Call(context.Background(), "esearch.fcgi", url.Values{})
	var open *ratelimit.CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Greater(t, open.RetryAfter, time.Duration(0))
}

func TestCall_SendsIdentityParams(t *testing.T) {
	var got url.Values
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.Write([]byte(`{}`))
	})

	params := url.Values{}
	params.Set("db", DBAssembly)
	_, err := client.Call(context.Background(), "esearch.fcgi", params)
	require.NoError(t, err)

	assert.Equal(t, "harvester-test", got.Get("tool"))
	assert.Equal(t, "test@example.com", got.Get("email"))
	assert.Empty(t, got.Get("api_key"))
	assert.Equal(t, DBAssembly, got.Get("db"))
}

func TestCall_Canceled(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Call(ctx, "esearch.fcgi", url.Values{})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSearch(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "assembly", r.URL.Query().Get("db"))
		assert.Equal(t, "5", r.URL.Query().Get("retmax"))
		w.Write([]byte(`{"esearchresult":{"idlist":["79781","202931"]}}`))
	})

	ids, err := client.Search(context.Background(), DBAssembly, `Escherichia coli[Organism]`, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"79781", "202931"}, ids)
}

func TestSearch_DecodeError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})

	_, err := client.Search(context.Background(), DBAssembly, "x", 1)
	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestSummarizeAssemblies(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "79781", r.URL.Query().Get("id"))
		w.Write([]byte(`{"result":{
			"uids":["79781"],
			"79781":{
				"assemblyaccession":"GCF_000005845.2",
				"assemblyname":"ASM584v2",
				"assemblystatus":"Complete Genome",
				"refseq_category":"reference genome"
			}
		}}`))
	})

	docs, err := client.SummarizeAssemblies(context.Background(), []string{"79781"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "GCF_000005845.2", docs["79781"].Accession)
	assert.Equal(t, "Complete Genome", docs["79781"].Status)
	assert.NotContains(t, docs, "uids")
}

func TestSummarizeSequences(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{
			"uids":["556503834"],
			"556503834":{
				"caption":"NC_000913",
				"accessionversion":"NC_000913.3",
				"slen":4641652,
				"genome":"chromosome",
				"completeness":"complete"
			}
		}}`))
	})

	docs, err := client.SummarizeSequences(context.Background(), []string{"556503834"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "NC_000913.3", docs["556503834"].AccessionVersion)
	assert.Equal(t, int64(4641652), docs["556503834"].Length)
}

func TestCrossLink(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "assembly", r.URL.Query().Get("dbfrom"))
		assert.Equal(t, "nuccore", r.URL.Query().Get("db"))
		w.Write([]byte(`{"linksets":[{
			"ids":["79781"],
			"linksetdbs":[
				{"linkname":"assembly_nuccore_refseq","links":["556503834"]},
				{"linkname":"assembly_nuccore_insdc","links":["48994873"]}
			]
		}]}`))
	})

	links, err := client.CrossLink(context.Background(), DBAssembly, DBNucleotide, []string{"79781"}, LinkAssemblyToRefSeq)
	require.NoError(t, err)
	// Only the requested link catalog is returned.
	assert.Equal(t, map[string][]string{"79781": {"556503834"}}, links)
}

func TestFetchRecords_BatchCap(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("LOCUS ..."))
	})

	_, err := client.FetchRecords(context.Background(), []string{"1", "2", "3", "4"})
	var tooLarge *BatchTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, 4, tooLarge.Size)
	assert.Equal(t, 3, tooLarge.Max)

	payload, err := client.FetchRecords(context.Background(), []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Equal(t, "LOCUS ...", payload)
}

func TestBatches(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}

	batches := Batches(ids, 2)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a", "b"}, batches[0])
	assert.Equal(t, []string{"e"}, batches[2])

	assert.Nil(t, Batches(nil, 2))
	assert.Len(t, Batches(ids, 0), 5)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()

	for attempt := 0; attempt < 10; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		maxWithJitter := time.Duration(float64(p.MaxDelay) * (1 + p.JitterFraction))
		assert.LessOrEqual(t, d, maxWithJitter)
	}
}

func TestMetrics_ObserveCall(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.ObserveCall("esearch.fcgi", OutcomeSuccess, 2, 100*time.Millisecond)
	m.ObserveCall("esearch.fcgi", OutcomeSuccess, 1, 50*time.Millisecond)

	count := testutil.ToFloat64(m.callsTotal.WithLabelValues("esearch.fcgi", string(OutcomeSuccess)))
	assert.Equal(t, 2.0, count)

	// Nil receiver is a no-op so the client can run without metrics.
	var none *Metrics
	none.ObserveCall("esearch.fcgi", OutcomeSuccess, 1, time.Millisecond)
}
