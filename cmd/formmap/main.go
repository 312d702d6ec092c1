// Command formmap reads a Japanese contact-form page (from stdin, a URL, or a
// directory of HTML files), decides which logical field each form element
// represents, and prints the mapping as JSON.
//
// Usage (stdin):
//
//	cat form.html | formmap
//
// Usage (fetch URL):
//
//	formmap -url "https://example.com/contact"
//
// Usage (directory mode):
//
//	formmap -dir "./pages"
//
// Persist runs for auditing:
//
//	formmap -url "https://example.com/contact" -store sqlite -dsn runs.db
//
// Submit metrics to Datadog:
//
//	formmap -dir ./pages -datadog -dd-tags "env:prod,service:formmap"
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"formmap/internal/config"
	"formmap/internal/dom"
	"formmap/internal/mapping"
	"formmap/internal/metrics"
	"formmap/internal/metrics/datadog"
	"formmap/internal/page"
	"formmap/internal/required"
	"formmap/internal/storage"
	_ "formmap/internal/storage/mssql"
	_ "formmap/internal/storage/postgres"
	_ "formmap/internal/storage/sqlite"
)

func main() {
	os.Exit(run(
		context.Background(),
		os.Args[1:],
		os.Stdin,
		os.Stdout,
		os.Stderr,
		http.DefaultClient,
	))
}

// runOutput is the JSON document printed for one analyzed page.
type runOutput struct {
	Source        string        `json:"source"`
	ElementsTotal int           `json:"elements_total"`
	FieldsMapped  int           `json:"fields_mapped"`
	AllRequired   bool          `json:"treat_all_as_required,omitempty"`
	Fields        []fieldOutput `json:"fields"`
}

type fieldOutput struct {
	Key string `json:"field"`
	mapping.MappedElement
}

// run is split out from main so the command can be unit tested without
// spawning an OS process.
//
// Exit codes:
//   - 0 for success
//   - 2 for usage/config errors
//   - 1 for operational/runtime errors
func run(
	ctx context.Context,
	args []string,
	stdin io.Reader,
	stdout io.Writer,
	stderr io.Writer,
	httpClient *http.Client,
) int {
	fs := flag.NewFlagSet("formmap", flag.ContinueOnError)
	fs.SetOutput(stderr)

	urlFlag := fs.String("url", "", "Optional: fetch HTML from URL instead of stdin")
	dirFlag := fs.String("dir", "", "Optional: directory of HTML files to analyze (one output object per file)")
	settingsPath := fs.String("settings", "", "Optional: path to settings JSON file")
	timeout := fs.Duration("timeout", 20*time.Second, "Timeout for -url fetch")
	quiet := fs.Bool("quiet", false, "Suppress pipeline stage logs")

	storeKind := fs.String("store", "", "Optional: persist runs to a storage backend (sqlite, postgres, mssql)")
	storeDSN := fs.String("dsn", "", "DSN for -store")

	useDatadog := fs.Bool("datadog", false, "Submit pipeline metrics to Datadog")
	ddTags := fs.String("dd-tags", "", "Extra Datadog tags, comma separated (env:prod,team:forms)")
	ddFlush := fs.Duration("dd-flush", 60*time.Second, "Datadog flush interval")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	settings := config.Default()
	if *settingsPath != "" {
		var err error
		settings, err = config.Load(*settingsPath)
		if err != nil {
			fmt.Fprintf(stderr, "load settings: %v\n", err)
			return 2
		}
	}
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(stderr, "settings: %v\n", err)
		return 2
	}

	engine := mapping.NewEngine(settings)
	if *quiet {
		engine.Logger = nil
	}

	backend, err := buildMetrics(ctx, *useDatadog, *ddTags, *ddFlush)
	if err != nil {
		fmt.Fprintf(stderr, "metrics: %v\n", err)
		return 2
	}
	defer func() { _ = backend.Close() }()
	engine.Metrics = backend

	var repo storage.Repository
	if *storeKind != "" {
		repo, err = storage.New(ctx, storage.Config{Kind: *storeKind, DSN: *storeDSN})
		if err != nil {
			fmt.Fprintf(stderr, "storage: %v\n", err)
			return 2
		}
		defer repo.Close()
		if err := repo.EnsureSchema(ctx); err != nil {
			fmt.Fprintf(stderr, "storage schema: %v\n", err)
			return 1
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)

	// Directory mode: one output object per file, failures logged and skipped.
	if *dirFlag != "" {
		return runDir(ctx, engine, repo, *dirFlag, enc, stderr)
	}

	loader := page.NewLoader(httpClient, *timeout)
	html, err := loader.Load(ctx, page.Input{URL: *urlFlag, Stdin: stdin})
	if err != nil {
		fmt.Fprintf(stderr, "load html: %v\n", err)
		return 1
	}

	source := *urlFlag
	if source == "" {
		source = "stdin"
	}
	out, err := analyze(engine, source, html)
	if err != nil {
		fmt.Fprintf(stderr, "analyze: %v\n", err)
		return 1
	}
	if repo != nil {
		if _, err := repo.SaveRun(ctx, toRunRecord(out)); err != nil {
			fmt.Fprintf(stderr, "save run: %v\n", err)
			return 1
		}
	}
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "encode json: %v\n", err)
		return 1
	}
	return 0
}

func buildMetrics(ctx context.Context, useDatadog bool, tagsCSV string, flushEvery time.Duration) (metrics.Backend, error) {
	if !useDatadog {
		return metrics.Nop{}, nil
	}
	return datadog.NewBackend(ctx, datadog.Options{
		Tags:       datadog.ParseTagsCSV(tagsCSV),
		FlushEvery: flushEvery,
	})
}

// runDir analyzes every .html/.htm file under dir. A broken file is reported
// and skipped; only an unreadable directory fails the whole run.
func runDir(ctx context.Context, engine *mapping.Engine, repo storage.Repository, dir string, enc *json.Encoder, stderr io.Writer) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintf(stderr, "read dir: %v\n", err)
		return 1
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".html" || ext == ".htm" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	failed := 0
	for _, name := range names {
		path := filepath.Join(dir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "read %s: %v\n", path, err)
			failed++
			continue
		}

		out, err := analyze(engine, name, string(b))
		if err != nil {
			fmt.Fprintf(stderr, "analyze %s: %v\n", path, err)
			failed++
			continue
		}
		if repo != nil {
			if _, err := repo.SaveRun(ctx, toRunRecord(out)); err != nil {
				fmt.Fprintf(stderr, "save run %s: %v\n", path, err)
				failed++
				continue
			}
		}
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(stderr, "encode json: %v\n", err)
			return 1
		}
	}

	if failed > 0 && failed == len(names) {
		return 1
	}
	return 0
}

// analyze runs the full pipeline over one page's HTML.
func analyze(engine *mapping.Engine, source, html string) (*runOutput, error) {
	classified, err := dom.ClassifyHTML(html)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	req := required.Analyze(classified)
	fm := engine.MapFields(classified, req)

	out := &runOutput{
		Source:        source,
		ElementsTotal: classified.Total(),
		FieldsMapped:  fm.Len(),
		AllRequired:   req.TreatAllAsRequired,
	}
	for _, key := range fm.Keys() {
		me, _ := fm.Get(key)
		out.Fields = append(out.Fields, fieldOutput{Key: key, MappedElement: me})
	}
	return out, nil
}

func toRunRecord(out *runOutput) *storage.RunRecord {
	rec := &storage.RunRecord{
		SourceURL:     out.Source,
		AnalyzedAt:    time.Now().UTC(),
		ElementsTotal: out.ElementsTotal,
		FieldsMapped:  out.FieldsMapped,
	}
	for _, f := range out.Fields {
		rec.Assignments = append(rec.Assignments, storage.AssignmentRecord{
			FieldKey:      f.Key,
			ElementIndex:  f.Index,
			TagName:       f.TagName,
			InputType:     f.InputType,
			AttrName:      f.Name,
			AttrID:        f.ID,
			Score:         f.Score,
			Provenance:    string(f.Prov),
			Required:      f.Required,
			AutoAction:    f.AutoAction,
			CopyFromField: f.CopyFromField,
		})
	}
	return rec
}
