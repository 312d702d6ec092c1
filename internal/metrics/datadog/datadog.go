// Package datadog implements a Datadog backend for the internal/metrics package.
//
// NOTE ABOUT FLUSHING:
// A form-analysis worker may process one page or run for hours over a crawl
// queue. Submitting only once at process exit makes dashboards awkward for
// long runs (a single spike instead of a time series), so this backend:
//   - buffers metrics in-memory (fast, lock-protected)
//   - periodically Flush()es on a ticker (default: once per minute)
//   - Flush()es one final time on Close()
//
// Concurrency model:
//   - Pipeline goroutines can call IncCounter/ObserveHistogram at any time.
//   - Flush snapshots+resets buffers under a mutex, then submits out-of-lock.
//   - The flush loop calls Flush() periodically; Close() stops the loop.
//
// If the process dies with SIGKILL/OOM, Close() won't run (no backend can fix
// that).
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"formmap/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric.
	// If empty, defaults to "formmap".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "service:formmap"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// The following fields are unexported test seams. Production code never
	// sets them; unit tests use them to avoid real network submission and
	// nondeterministic clocks/tickers.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal interface needed to submit metrics.
//
// The Datadog SDK exposes a concrete *datadogV2.MetricsApi, which cannot be
// stubbed without real HTTP; Backend depends on this interface instead.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// labeledKey flattens a Labels map into a stable buffer key.
func labeledKey(labels metrics.Labels) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, k+":"+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func keyTags(k string) []string {
	if k == "" {
		return nil
	}
	return strings.Split(k, ",")
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	pageCount       float64
	mappedCounts    map[string]float64 // labeledKey -> count
	safeguardRejs   map[string]float64
	filterRejs      map[string]float64
	rescueCounts    map[string]float64
	panicCounts     map[string]float64
	durationSamples []float64            // seconds per page
	scoreSamples    map[string][]float64 // labeledKey -> accepted scores
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client.
//
// Edge cases:
//   - If opts.FlushEvery <= 0, defaults to 60s.
//   - If opts.JobName is empty, defaults to "formmap".
//   - Environment tag selection uses ENV then DD_ENV, otherwise env:unknown.
//
// Errors occur during Flush(), not construction; Datadog client setup does
// not hit the network.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "formmap"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		cfg := dd.NewConfiguration()
		client := dd.NewAPIClient(cfg)
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,

		mappedCounts:  make(map[string]float64),
		safeguardRejs: make(map[string]float64),
		filterRejs:    make(map[string]float64),
		rescueCounts:  make(map[string]float64),
		panicCounts:   make(map[string]float64),
		scoreSamples:  make(map[string][]float64),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush().
//
// Close-once semantics: a second Close panics on the already-closed stopCh,
// which is acceptable for a process-lifetime backend.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.MetricPagesTotal:
		b.pageCount += delta
	case metrics.MetricFieldsMapped:
		b.mappedCounts[labeledKey(labels)] += delta
	case metrics.MetricSafeguardRejects:
		b.safeguardRejs[labeledKey(labels)] += delta
	case metrics.MetricFilterRejects:
		b.filterRejs[labeledKey(labels)] += delta
	case metrics.MetricRescueTotal:
		b.rescueCounts[labeledKey(labels)] += delta
	case metrics.MetricPassPanics:
		b.panicCounts[labeledKey(labels)] += delta
	default:
		// Ignore unknown metrics by design.
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.MetricMapDuration:
		b.durationSamples = append(b.durationSamples, value)
	case metrics.MetricFieldScore:
		k := labeledKey(labels)
		b.scoreSamples[k] = append(b.scoreSamples[k], value)
	default:
		// Ignore unknown histograms by design.
	}
}

// snapshot is the detached buffered state used to build one flush payload.
// Flush() must reset buffers under a lock but submit out-of-lock; snapshot
// separates collect+reset from payload building+submission.
type snapshot struct {
	pageCount       float64
	mappedCounts    map[string]float64
	safeguardRejs   map[string]float64
	filterRejs      map[string]float64
	rescueCounts    map[string]float64
	panicCounts     map[string]float64
	durationSamples []float64
	scoreSamples    map[string][]float64
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		pageCount:       b.pageCount,
		mappedCounts:    b.mappedCounts,
		safeguardRejs:   b.safeguardRejs,
		filterRejs:      b.filterRejs,
		rescueCounts:    b.rescueCounts,
		panicCounts:     b.panicCounts,
		durationSamples: b.durationSamples,
		scoreSamples:    b.scoreSamples,
	}

	b.pageCount = 0
	b.mappedCounts = make(map[string]float64)
	b.safeguardRejs = make(map[string]float64)
	b.filterRejs = make(map[string]float64)
	b.rescueCounts = make(map[string]float64)
	b.panicCounts = make(map[string]float64)
	b.durationSamples = nil
	b.scoreSamples = make(map[string][]float64)

	return s
}

func (s snapshot) isEmpty() bool {
	return s.pageCount == 0 &&
		len(s.mappedCounts) == 0 &&
		len(s.safeguardRejs) == 0 &&
		len(s.filterRejs) == 0 &&
		len(s.rescueCounts) == 0 &&
		len(s.panicCounts) == 0 &&
		len(s.durationSamples) == 0 &&
		len(s.scoreSamples) == 0
}

// Flush submits buffered metrics to Datadog and resets local buffers.
//
// Buffers are reset even if submission fails, by design: the pipeline must
// never block on metrics delivery.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	series := b.buildSeries(snap, b.now().Unix())
	payload := datadogV2.MetricPayload{Series: series}

	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries constructs Datadog series for a snapshot at a fixed timestamp.
// Pure (no locks, no network, no clocks), which keeps naming/tagging behavior
// unit-testable; names here are an operational contract.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	var series []datadogV2.MetricSeries

	count := func(metric string, value float64, tags []string) {
		if value == 0 {
			return
		}
		series = append(series, datadogV2.MetricSeries{
			Metric: metric,
			Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
			Points: []datadogV2.MetricPoint{
				{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
			},
			Tags: tags,
		})
	}

	count("formmap.pages.total", s.pageCount, b.baseTags)
	for k, v := range s.mappedCounts {
		count("formmap.fields.mapped.total", v, withTags(b.baseTags, keyTags(k)...))
	}
	for k, v := range s.safeguardRejs {
		count("formmap.safeguard.rejects.total", v, withTags(b.baseTags, keyTags(k)...))
	}
	for k, v := range s.filterRejs {
		count("formmap.filter.rejects.total", v, withTags(b.baseTags, keyTags(k)...))
	}
	for k, v := range s.rescueCounts {
		count("formmap.rescue.total", v, withTags(b.baseTags, keyTags(k)...))
	}
	for k, v := range s.panicCounts {
		count("formmap.pass.panics.total", v, withTags(b.baseTags, keyTags(k)...))
	}

	addPercentiles(&series, b.baseTags, "formmap.map.duration_seconds", s.durationSamples, nowUnix)
	for k, samples := range s.scoreSamples {
		addPercentiles(&series, withTags(b.baseTags, keyTags(k)...), "formmap.field.score", samples, nowUnix)
	}

	return series
}

// addPercentiles appends a fixed set of percentile gauges for a sample set.
// Sorts a copy; empty input is a no-op.
func addPercentiles(series *[]datadogV2.MetricSeries, tags []string, metricPrefix string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series, gaugeSeries(metricPrefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".max", cp[len(cp)-1], tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".samples", float64(len(cp)), tags, nowUnix))
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:formmap".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
