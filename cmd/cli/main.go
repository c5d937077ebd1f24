package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/txn-reconciler/internal/app"
	"github.com/dvloznov/txn-reconciler/internal/config"
	"github.com/dvloznov/txn-reconciler/internal/gcsuploader"
	"github.com/dvloznov/txn-reconciler/internal/logger"
	"github.com/dvloznov/txn-reconciler/internal/output"
	"github.com/dvloznov/txn-reconciler/internal/pipeline"
	"github.com/dvloznov/txn-reconciler/internal/stats"
	"github.com/dvloznov/txn-reconciler/internal/store"
	"github.com/rs/zerolog"
)

// errUsage marks errors already reported through the flag set.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	p := output.New(stdout)

	if len(args) < 1 {
		printUsage(stdout)
		return 1
	}

	commands := map[string]func(args []string, p *output.Printer) error{
		"ingest": runIngest,
		"upload": runUpload,
		"stats":  runStats,
		"list":   runList,
		"runs":   runRuns,
	}

	switch args[0] {
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	}

	cmd, ok := commands[args[0]]
	if !ok {
		p.Error(fmt.Sprintf("Unknown command: %s", args[0]))
		printUsage(stdout)
		return 1
	}

	if err := cmd(args[1:], p); err != nil {
		if !errors.Is(err, errUsage) {
			p.Error(err.Error())
		}
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Transaction Reconciler CLI")
	fmt.Fprintln(w, "\nUsage:")
	fmt.Fprintln(w, "  cli <command> [options]")
	fmt.Fprintln(w, "\nCommands:")
	fmt.Fprintln(w, "  ingest    Ingest a transaction file from disk or GCS")
	fmt.Fprintln(w, "  upload    Upload a transaction file to GCS")
	fmt.Fprintln(w, "  stats     Show transaction statistics")
	fmt.Fprintln(w, "  list      List stored transactions")
	fmt.Fprintln(w, "  runs      List recent ingestion runs")
	fmt.Fprintln(w, "  help      Show this help message")
	fmt.Fprintln(w, "\nRun 'cli <command> -h' for more information on a command.")
}

// env holds what every command needs once flags are parsed.
type env struct {
	cfg config.Config
	log zerolog.Logger
	ctx context.Context
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML config file")
	return fs, configPath
}

func parse(fs *flag.FlagSet, configPath *string, args []string) (*env, error) {
	if err := fs.Parse(args); err != nil {
		return nil, errUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	log, err := app.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log, ctx: logger.WithContext(context.Background(), log)}, nil
}

func (e *env) openStore() (store.Store, error) {
	return app.OpenStore(e.ctx, e.cfg.Store)
}

func runIngest(args []string, p *output.Printer) error {
	fs, configPath := newFlagSet("ingest")
	filePath := fs.String("file", "", "Path to a local transaction file")
	gcsURI := fs.String("gcs-uri", "", "GCS URI of a transaction file")
	e, err := parse(fs, configPath, args)
	if err != nil {
		return err
	}

	source := *filePath
	if source == "" {
		source = *gcsURI
	}
	if source == "" || (*filePath != "" && *gcsURI != "") {
		return fmt.Errorf("exactly one of -file or -gcs-uri is required")
	}

	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var objects pipeline.ObjectReader
	if *gcsURI != "" {
		gcs, err := gcsuploader.NewClient(e.ctx)
		if err != nil {
			return err
		}
		defer gcs.Close()
		objects = gcs
	}

	e.log.Info().Str("source", source).Msg("Starting ingestion")

	result, err := app.NewIngestor(st, e.cfg.Ingest).IngestSource(e.ctx, source, objects)
	if result != nil {
		p.IngestionResult(source, result)
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	return nil
}

func runUpload(args []string, p *output.Printer) error {
	fs, configPath := newFlagSet("upload")
	bucketName := fs.String("bucket", "", "GCS bucket name (defaults to gcs.bucket)")
	objectName := fs.String("object", "", "GCS object name (defaults to a dated name under gcs.prefix)")
	filePath := fs.String("file", "", "Path to local transaction file")
	e, err := parse(fs, configPath, args)
	if err != nil {
		return err
	}

	if *bucketName == "" {
		*bucketName = e.cfg.GCS.Bucket
	}
	if *bucketName == "" || *filePath == "" {
		return fmt.Errorf("usage: cli upload -bucket NAME -file PATH")
	}
	if *objectName == "" {
		*objectName = gcsuploader.ArchiveObjectName(e.cfg.GCS.Prefix, *filePath, time.Now())
	}

	e.log.Info().
		Str("bucket", *bucketName).
		Str("object", *objectName).
		Str("file", *filePath).
		Msg("Uploading file to GCS")

	gcs, err := gcsuploader.NewClient(e.ctx)
	if err != nil {
		return err
	}
	defer gcs.Close()

	uri, err := gcs.UploadFile(e.ctx, *bucketName, *objectName, *filePath)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	p.Success(fmt.Sprintf("Uploaded %s to %s", *filePath, uri))
	p.Info(fmt.Sprintf("Ingest it with: cli ingest -gcs-uri %s", uri))
	return nil
}

func runStats(args []string, p *output.Printer) error {
	fs, configPath := newFlagSet("stats")
	e, err := parse(fs, configPath, args)
	if err != nil {
		return err
	}

	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	s, err := stats.NewAggregator(st).Compute(e.ctx)
	if err != nil {
		return err
	}
	p.Statistics(s)
	return nil
}

func runList(args []string, p *output.Printer) error {
	fs, configPath := newFlagSet("list")
	page := fs.Int("page", 1, "Page number")
	limit := fs.Int("limit", 20, "Transactions per page")
	clientName := fs.String("client", "", "Case-insensitive client name filter")
	startDate := fs.String("start-date", "", "Start date in YYYY-MM-DD format")
	endDate := fs.String("end-date", "", "End date in YYYY-MM-DD format")
	e, err := parse(fs, configPath, args)
	if err != nil {
		return err
	}
	if *page < 1 || *limit < 1 {
		return fmt.Errorf("-page and -limit must be positive")
	}

	filter := store.TransactionFilter{ClientName: *clientName}
	if filter.StartDate, err = optionalDate(*startDate); err != nil {
		return fmt.Errorf("invalid -start-date: %w", err)
	}
	if filter.EndDate, err = optionalDate(*endDate); err != nil {
		return fmt.Errorf("invalid -end-date: %w", err)
	}

	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	total, err := st.CountTransactions(e.ctx, filter)
	if err != nil {
		return err
	}
	sort := store.Sort{Field: store.SortByDate, Direction: store.Desc}
	txs, err := st.FindTransactionsPaged(e.ctx, filter, sort, (*page-1)*(*limit), *limit)
	if err != nil {
		return err
	}

	p.Transactions(txs, total)
	return nil
}

func runRuns(args []string, p *output.Printer) error {
	fs, configPath := newFlagSet("runs")
	limit := fs.Int("limit", 20, "Number of runs to show")
	e, err := parse(fs, configPath, args)
	if err != nil {
		return err
	}

	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListIngestionRuns(e.ctx, *limit)
	if err != nil {
		return err
	}
	p.Runs(runs)
	return nil
}

func optionalDate(s string) (civil.Date, error) {
	if s == "" {
		return civil.Date{}, nil
	}
	return civil.ParseDate(s)
}
