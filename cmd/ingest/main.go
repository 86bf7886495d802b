package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"ingest/internal/config"
	"ingest/internal/metrics"
	"ingest/internal/metrics/datadog"
	"ingest/internal/schema"

	// register all reflector backends with the schema factory.
	// config specifies which to use but we build in support for all of them.
	_ "ingest/internal/schema/mssql"
	_ "ingest/internal/schema/postgres"
	_ "ingest/internal/schema/sqlite"
)

const usage = `usage: ingest <command> [flags]

commands:
  analyze      detect structure and suggest a destination mapping for a file
  map          store the approved mapping for a session
  validate     coerce and validate a file against its approved mapping
  import       write validated rows to the destination
  cancel       cancel a session before its import starts
  rollback     remove the rows a completed session inserted
  plan-schema  turn schema-change proposals into DDL (and optionally apply)
  candidates   list or resolve pending master-data values
  template     save a reusable mapping template

run "ingest <command> -h" for command flags
`

// main dispatches to one subcommand. Each command loads the config, wires
// its own dependencies and runs; shared plumbing lives in pipeline.go.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var run func(ctx context.Context, env *env, args []string) error
	switch cmd {
	case "analyze":
		run = cmdAnalyze
	case "map":
		run = cmdMap
	case "validate":
		run = cmdValidate
	case "import":
		run = cmdImport
	case "cancel":
		run = cmdCancel
	case "rollback":
		run = cmdRollback
	case "plan-schema":
		run = cmdPlanSchema
	case "candidates":
		run = cmdCandidates
	case "template":
		run = cmdTemplate
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	// The global -config flag precedes the command in the environment
	// variable INGEST_CONFIG; commands add their own flags on top.
	cfgPath := os.Getenv("INGEST_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("config: %v", err)
	}

	ctx := context.Background()
	e := &env{cfg: cfg}
	e.metricsBackend = setupMetrics(ctx, cfg)
	defer func() {
		if err := e.metricsBackend.Close(); err != nil {
			log.Printf("metrics: close/flush error: %v", err)
		}
	}()

	start := time.Now()
	if err := run(ctx, e, args); err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
	log.Printf("%s completed in %s", cmd, time.Since(start).Truncate(time.Millisecond))
}

// setupMetrics picks the metrics sink from config: Datadog when enabled,
// otherwise the nop backend so call sites never nil-check.
func setupMetrics(ctx context.Context, cfg config.Config) metrics.Backend {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	if os.Getenv(cfg.Metrics.APIKeyEnv) == "" {
		log.Printf("metrics: %s not set; metrics disabled", cfg.Metrics.APIKeyEnv)
		return metrics.Nop{}
	}

	extraTags := append([]string(nil), cfg.Metrics.Tags...)
	extraTags = append(extraTags, datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))...)

	b, err := datadog.NewBackend(ctx, datadog.Options{
		JobName:    cfg.Metrics.JobName,
		Tags:       extraTags,
		FlushEvery: cfg.Metrics.FlushEvery,
	})
	if err != nil {
		log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
		return metrics.Nop{}
	}
	log.Printf("metrics: backend=datadog job_name=%v tags=%v", cfg.Metrics.JobName, extraTags)
	return b
}

// openReflector connects to the configured destination. Commands that can
// degrade without one (analyze) tolerate the error; the rest treat it as
// fatal.
func openReflector(ctx context.Context, cfg config.Config) (schema.Reflector, error) {
	if cfg.Destination.Driver == "" {
		return nil, fmt.Errorf("no destination driver configured")
	}
	return schema.Open(ctx, schema.OpenConfig{
		Driver:        cfg.Destination.Driver,
		DSN:           cfg.Destination.DSN,
		DefaultSchema: cfg.Destination.Schema,
	})
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs
}

// printJSON writes the command's result document to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
