// Command formmap-crawl analyzes contact forms for a list of URLs.
//
// It reads URLs from a file (one per line), fetches each page with polite
// pacing and retry/backoff, runs the field-mapping pipeline on the fetched
// HTML, and emits one JSONL record per attempt to stdout. Fetched pages can
// optionally be saved for later replay with `formmap -dir`, and finished runs
// can be persisted to a storage backend.
//
// Usage:
//
//	formmap-crawl -i urls.txt -n 8 -o pages/
//	formmap-crawl -i urls.txt -store postgres -dsn "$DSN" -datadog
package main

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"formmap/internal/config"
	"formmap/internal/dom"
	"formmap/internal/mapping"
	"formmap/internal/metrics"
	"formmap/internal/metrics/datadog"
	"formmap/internal/required"
	"formmap/internal/storage"
	_ "formmap/internal/storage/mssql"
	_ "formmap/internal/storage/postgres"
	_ "formmap/internal/storage/sqlite"
)

// maxBodyBytes caps how much of a page is read for analysis. Contact pages
// are small; anything past this is not a form.
const maxBodyBytes = 8 << 20

// logRecord is emitted as JSONL to stdout for each URL attempt.
//
// This output is intended for machine parsing. Additive changes are safe;
// renames/removals are breaking changes for downstream log consumers.
type logRecord struct {
	Timestamp     string            `json:"ts"`
	URL           string            `json:"url"`
	Attempt       int               `json:"attempt"`
	StatusCode    int               `json:"http_code"`
	DurationMs    int64             `json:"duration_ms"`
	DownloadSz    int64             `json:"size_bytes"`
	ElementsTotal int               `json:"elements_total,omitempty"`
	FieldsMapped  int               `json:"fields_mapped,omitempty"`
	File          string            `json:"file,omitempty"`
	Error         string            `json:"error,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	RetryAfterMs  int64             `json:"retry_after_ms,omitempty"`
}

// deps are external seams for testability.
//
// When to use:
//   - Unit tests: inject a fake backend factory and capture stdout/stderr.
//   - Alternate runtimes: swap the metrics backend or output sinks.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	BackendFactory func(ctx context.Context, tags []string, flushEvery time.Duration) (metrics.Backend, error)
	Now            func() time.Time
	Sleep          func(d time.Duration)
}

// runConfig holds the parsed flags and derived values for a run.
type runConfig struct {
	URLFile      string
	Workers      int
	Timeout      time.Duration
	SaveDir      string
	SettingsPath string

	MaxAttempts     int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	JitterMax       time.Duration
	SleepBefore     time.Duration
	LogHeadersOn429 bool
	MaxConnsPerHost int

	StoreKind string
	StoreDSN  string

	UseDatadog bool
	DDTagsCSV  string
	FlushEvery time.Duration
}

// main is intentionally small: it wires real dependencies and exits with a code.
func main() {
	code := run(context.Background(), os.Args[1:], deps{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		BackendFactory: func(ctx context.Context, tags []string, flushEvery time.Duration) (metrics.Backend, error) {
			return datadog.NewBackend(ctx, datadog.Options{
				JobName:    "formmap-crawl",
				Tags:       tags,
				FlushEvery: flushEvery,
			})
		},
		Now:   time.Now,
		Sleep: time.Sleep,
	})
	os.Exit(code)
}

// run executes the crawl command and returns an exit code.
//
// Exit codes:
//   - 0: success.
//   - 1: at least one URL exhausted retries (non-404).
//   - 2: configuration/initialization error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Sleep == nil {
		d.Sleep = time.Sleep
	}

	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	settings := config.Default()
	if cfg.SettingsPath != "" {
		settings, err = config.Load(cfg.SettingsPath)
		if err != nil {
			fmt.Fprintf(d.Stderr, "load settings: %v\n", err)
			return 2
		}
	}

	if cfg.SaveDir != "" {
		if err := os.MkdirAll(cfg.SaveDir, 0o755); err != nil {
			fmt.Fprintf(d.Stderr, "failed to create save directory: %v\n", err)
			return 2
		}
	}

	urls, err := readURLs(cfg.URLFile)
	if err != nil {
		fmt.Fprintf(d.Stderr, "error reading urls: %v\n", err)
		return 2
	}
	if len(urls) == 0 {
		fmt.Fprintf(d.Stderr, "no URLs found in %s\n", cfg.URLFile)
		return 2
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	backend := metrics.Backend(metrics.Nop{})
	if cfg.UseDatadog {
		if d.BackendFactory == nil {
			fmt.Fprintln(d.Stderr, "internal error: BackendFactory is nil")
			return 2
		}
		backend, err = d.BackendFactory(ctx, datadog.ParseTagsCSV(cfg.DDTagsCSV), cfg.FlushEvery)
		if err != nil {
			fmt.Fprintf(d.Stderr, "datadog backend init failed: %v\n", err)
			return 2
		}
	}
	defer func() { _ = backend.Close() }()

	var repo storage.Repository
	if cfg.StoreKind != "" {
		repo, err = storage.New(ctx, storage.Config{Kind: cfg.StoreKind, DSN: cfg.StoreDSN})
		if err != nil {
			fmt.Fprintf(d.Stderr, "storage: %v\n", err)
			return 2
		}
		defer repo.Close()
		if err := repo.EnsureSchema(ctx); err != nil {
			fmt.Fprintf(d.Stderr, "storage schema: %v\n", err)
			return 2
		}
	}

	engine := &mapping.Engine{Settings: settings, Metrics: backend}

	client := newHTTPClient(cfg.Timeout, cfg.MaxConnsPerHost)

	jobs := make(chan string)
	logCh := make(chan logRecord, 512)

	// Fail fast on the first URL that exhausts retries.
	var fatalMu sync.Mutex
	fatal := false
	setFatal := func() {
		fatalMu.Lock()
		fatal = true
		fatalMu.Unlock()
	}
	isFatal := func() bool {
		fatalMu.Lock()
		defer fatalMu.Unlock()
		return fatal
	}

	// Logger goroutine.
	var logWG sync.WaitGroup
	logWG.Add(1)
	go func() {
		defer logWG.Done()
		writeJSONLines(d.Stdout, logCh)
	}()

	// Workers.
	var wg sync.WaitGroup
	wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		workerID := i
		rng := rand.New(rand.NewSource(d.Now().UnixNano() + int64(workerID)*9973))

		go func() {
			defer wg.Done()

			runWorker(ctx, rng, client, jobs, logCh, workerEnv{
				cfg:    cfg,
				engine: engine,
				repo:   repo,
			}, setFatal, cancel, d.Sleep)
		}()
	}

	// Producer.
	go func() {
		defer close(jobs)
		for _, u := range urls {
			select {
			case <-ctx.Done():
				return
			case jobs <- u:
			}
		}
	}()

	wg.Wait()
	close(logCh)
	logWG.Wait()

	if isFatal() {
		return 1
	}
	return 0
}

// parseFlags parses command arguments into a validated runConfig.
//
// Errors:
//   - Returns an error for invalid/missing required flags.
//   - Does not exit the process (caller decides exit code).
func parseFlags(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("formmap-crawl", flag.ContinueOnError)

	// Capture help/usage text instead of writing to stdout.
	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)

	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	var cfg runConfig
	fs.StringVar(&cfg.URLFile, "i", "", "Path to file containing URLs (one per line)")
	fs.IntVar(&cfg.Workers, "n", 4, "Number of concurrent workers")
	fs.DurationVar(&cfg.Timeout, "t", 60*time.Second, "HTTP timeout per request (e.g. 60s)")
	fs.StringVar(&cfg.SaveDir, "o", "", "Optional: directory to save fetched pages for later replay")
	fs.StringVar(&cfg.SettingsPath, "settings", "", "Optional: path to settings JSON file")
	fs.IntVar(&cfg.MaxAttempts, "max_attempts", 5, "Max attempts per URL (including first attempt)")
	fs.DurationVar(&cfg.BaseBackoff, "base_backoff", 2*time.Second, "Base backoff for retries (non-429)")
	fs.DurationVar(&cfg.MaxBackoff, "max_backoff", 60*time.Second, "Max backoff for retries (non-429)")
	fs.DurationVar(&cfg.JitterMax, "jitter_max", 350*time.Millisecond, "Max jitter added to sleeps")
	fs.DurationVar(&cfg.SleepBefore, "sleep_before", 200*time.Millisecond, "Base sleep before each request")
	fs.BoolVar(&cfg.LogHeadersOn429, "log_headers_on_429", true, "Include response headers in logs for HTTP 429")
	fs.IntVar(&cfg.MaxConnsPerHost, "max_conns_per_host", 32, "Max HTTP connections per host (0 means unlimited)")
	fs.StringVar(&cfg.StoreKind, "store", "", "Optional: persist runs to a storage backend (sqlite, postgres, mssql)")
	fs.StringVar(&cfg.StoreDSN, "dsn", "", "DSN for -store")
	fs.BoolVar(&cfg.UseDatadog, "datadog", false, "Submit pipeline metrics to Datadog")
	fs.StringVar(&cfg.DDTagsCSV, "dd_tags", "", "Extra Datadog tags CSV (e.g. env:prod,service:formmap)")
	fs.DurationVar(&cfg.FlushEvery, "metrics_flush", 1*time.Minute, "Datadog flush interval (default 1m)")

	if err := fs.Parse(args); err != nil {
		// When -h / -help is passed, flag.Parse returns flag.ErrHelp.
		// Return the captured usage text so caller prints it.
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		// For other parse errors, return the error plus usage (nice UX).
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}

	if cfg.URLFile == "" {
		return runConfig{}, errors.New("missing required -i <url_file>")
	}
	if cfg.Workers <= 0 {
		return runConfig{}, errors.New("-n must be > 0")
	}
	if cfg.MaxAttempts <= 0 {
		return runConfig{}, errors.New("-max_attempts must be > 0")
	}
	if cfg.MaxConnsPerHost < 0 {
		return runConfig{}, errors.New("-max_conns_per_host must be >= 0")
	}
	if cfg.StoreKind == "" && cfg.StoreDSN != "" {
		return runConfig{}, errors.New("-dsn requires -store")
	}

	return cfg, nil
}

// workerEnv bundles the per-worker collaborators.
type workerEnv struct {
	cfg    runConfig
	engine *mapping.Engine
	repo   storage.Repository
}

func runWorker(
	ctx context.Context,
	rng *rand.Rand,
	client *http.Client,
	jobs <-chan string,
	logCh chan<- logRecord,
	env workerEnv,
	setFatal func(),
	cancel context.CancelFunc,
	sleep func(d time.Duration),
) {
	sleeper := newSleeper(rng, env.cfg.SleepBefore, env.cfg.JitterMax, sleep)

	for {
		select {
		case <-ctx.Done():
			return
		case rawURL, ok := <-jobs:
			if !ok {
				return
			}

			okLoad := processURL(ctx, client, rawURL, env, sleeper, logCh)
			if okLoad {
				continue
			}

			setFatal()
			cancel()
			return
		}
	}
}

func processURL(
	ctx context.Context,
	client *http.Client,
	rawURL string,
	env workerEnv,
	sleeper *sleeper,
	logCh chan<- logRecord,
) bool {
	for attempt := 1; attempt <= env.cfg.MaxAttempts; attempt++ {
		sleeper.Sleep()

		rec, body := doAttempt(ctx, client, rawURL, attempt, env.cfg.LogHeadersOn429)

		if rec.StatusCode >= 200 && rec.StatusCode < 300 && rec.Error == "" {
			analyzePage(ctx, env, rawURL, body, &rec)
			logCh <- rec
			return true
		}

		logCh <- rec

		if rec.StatusCode == http.StatusNotFound {
			// A missing page is not a crawl failure.
			return true
		}
		if attempt == env.cfg.MaxAttempts {
			return false
		}

		wait := nextRetryDelay(rec, attempt, env.cfg.BaseBackoff, env.cfg.MaxBackoff)
		if !sleepContext(ctx, wait) {
			return false
		}
	}

	return false
}

// analyzePage runs the mapping pipeline on a fetched body and annotates the
// log record. Analysis failures are recorded, never fatal: one broken page
// must not stop the crawl.
func analyzePage(ctx context.Context, env workerEnv, rawURL string, body []byte, rec *logRecord) {
	if env.cfg.SaveDir != "" {
		path := filepath.Join(env.cfg.SaveDir, hashString(rawURL)+".html")
		if err := writeFileAtomic(path, body); err != nil {
			rec.Error = err.Error()
		} else {
			rec.File = path
		}
	}

	classified, err := dom.ClassifyHTML(string(body))
	if err != nil {
		rec.Error = err.Error()
		return
	}
	req := required.Analyze(classified)
	fm := env.engine.MapFields(classified, req)

	rec.ElementsTotal = classified.Total()
	rec.FieldsMapped = fm.Len()

	if env.repo == nil {
		return
	}
	row := &storage.RunRecord{
		SourceURL:     rawURL,
		AnalyzedAt:    time.Now().UTC(),
		ElementsTotal: classified.Total(),
		FieldsMapped:  fm.Len(),
	}
	for _, key := range fm.Keys() {
		me, _ := fm.Get(key)
		row.Assignments = append(row.Assignments, storage.AssignmentRecord{
			FieldKey:      key,
			ElementIndex:  me.Index,
			TagName:       me.TagName,
			InputType:     me.InputType,
			AttrName:      me.Name,
			AttrID:        me.ID,
			Score:         me.Score,
			Provenance:    string(me.Prov),
			Required:      me.Required,
			AutoAction:    me.AutoAction,
			CopyFromField: me.CopyFromField,
		})
	}
	if _, err := env.repo.SaveRun(ctx, row); err != nil {
		rec.Error = err.Error()
	}
}

func doAttempt(
	ctx context.Context,
	client *http.Client,
	rawURL string,
	attempt int,
	logHeaders429 bool,
) (logRecord, []byte) {
	start := time.Now()

	rec := logRecord{
		Timestamp:  time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		URL:        rawURL,
		Attempt:    attempt,
		StatusCode: 0,
		DownloadSz: -1,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		rec.DurationMs = time.Since(start).Milliseconds()
		rec.Error = err.Error()
		return rec, nil
	}
	req.Header.Set("User-Agent", "formmap/1.0")

	resp, err := client.Do(req)
	if err != nil {
		rec.DurationMs = time.Since(start).Milliseconds()
		rec.Error = err.Error()
		return rec, nil
	}
	defer resp.Body.Close()

	rec.StatusCode = resp.StatusCode

	var body []byte
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		rec.DownloadSz = int64(len(body))
		if err != nil {
			rec.Error = err.Error()
		}
	} else {
		// Discard the body so connections can be reused.
		n, derr := io.Copy(io.Discard, resp.Body)
		rec.DownloadSz = n
		if derr != nil {
			rec.Error = derr.Error()
		}
	}

	rec.DurationMs = time.Since(start).Milliseconds()

	if resp.StatusCode == http.StatusTooManyRequests && logHeaders429 {
		rec.Headers = flattenHeaders(resp.Header, 64)
		rec.RetryAfterMs = parseRetryAfter(resp.Header).Milliseconds()
	}

	return rec, body
}

// writeFileAtomic writes b to path via a temp file in the same directory.
func writeFileAtomic(path string, b []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".crawl-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(b)
	closeErr := tmp.Close()

	if writeErr != nil {
		_ = os.Remove(tmpName)
		return writeErr
	}
	if closeErr != nil {
		_ = os.Remove(tmpName)
		return closeErr
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func nextRetryDelay(rec logRecord, attempt int, base, max time.Duration) time.Duration {
	if rec.StatusCode == http.StatusTooManyRequests && rec.RetryAfterMs > 0 {
		return time.Duration(rec.RetryAfterMs) * time.Millisecond
	}

	// Exponential: base * 2^(attempt-1), clamped.
	d := base << uint(attempt-1)
	if d > max {
		d = max
	}

	// Network error case (status=0): enforce a minimum to reduce tight loops.
	if rec.StatusCode == 0 && d < 10*time.Second {
		d = 10 * time.Second
	}

	return d
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func parseRetryAfter(h http.Header) time.Duration {
	ra := strings.TrimSpace(h.Get("Retry-After"))
	if ra == "" {
		return 0
	}

	// delta-seconds
	if secs, err := strconv.Atoi(ra); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}

	// HTTP-date
	if t, err := http.ParseTime(ra); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}

func flattenHeaders(h http.Header, maxKeys int) map[string]string {
	out := make(map[string]string, minInt(len(h), maxKeys))
	n := 0
	for k, v := range h {
		if n >= maxKeys {
			break
		}
		out[k] = strings.Join(v, ", ")
		n++
	}
	return out
}

func newHTTPClient(timeout time.Duration, maxConnsPerHost int) *http.Client {
	transport := &http.Transport{
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 64,
		MaxConnsPerHost:     maxConnsPerHost,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

func readURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}

func writeJSONLines(w io.Writer, in <-chan logRecord) {
	enc := json.NewEncoder(w)
	for rec := range in {
		_ = enc.Encode(rec)
	}
}

func hashString(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

type sleeper struct {
	rng       *rand.Rand
	base      time.Duration
	jitterMax time.Duration
	sleep     func(d time.Duration)
}

func newSleeper(rng *rand.Rand, base, jitterMax time.Duration, sleep func(d time.Duration)) *sleeper {
	if sleep == nil {
		sleep = time.Sleep
	}
	return &sleeper{
		rng:       rng,
		base:      base,
		jitterMax: jitterMax,
		sleep:     sleep,
	}
}

func (s *sleeper) Sleep() {
	jitter := time.Duration(0)
	if s.jitterMax > 0 {
		jitter = time.Duration(s.rng.Int63n(int64(s.jitterMax) + 1))
	}
	s.sleep(s.base + jitter)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
