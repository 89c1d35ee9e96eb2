// Command indexer detects and tracks objects in video files and stores the
// resulting tracked events in SQLite, optionally publishing them to Kafka.
//
// Usage:
//
//	indexer [flags] video.mp4 [video2.mp4 ...]
//	indexer migrate <up|down|status|version|force|baseline> [-db path]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nekzampe/surveillance-indexer/internal/api"
	"github.com/nekzampe/surveillance-indexer/internal/config"
	"github.com/nekzampe/surveillance-indexer/internal/db"
	"github.com/nekzampe/surveillance-indexer/internal/kafka"
	"github.com/nekzampe/surveillance-indexer/internal/persist"
	"github.com/nekzampe/surveillance-indexer/internal/pipeline"
	"github.com/nekzampe/surveillance-indexer/internal/security"
	"github.com/nekzampe/surveillance-indexer/internal/tracking"
	"github.com/nekzampe/surveillance-indexer/internal/version"
	"github.com/nekzampe/surveillance-indexer/internal/video/opencv"
)

const defaultDBPath = "indexer.db"

var (
	configPath   = flag.String("config", "", "Indexer config JSON (defaults built in)")
	dbPath       = flag.String("db", defaultDBPath, "SQLite database path")
	envFile      = flag.String("env", ".env", "Env file with KAFKA_* settings")
	listen       = flag.String("listen", "", "HTTP listen address for the API (disabled when empty)")
	serve        = flag.Bool("serve", false, "Keep serving the API after all videos are processed")
	modelCfg     = flag.String("model-cfg", "models/yolov3-tiny.cfg", "Darknet network config")
	modelWeights = flag.String("model-weights", "models/yolov3-tiny.weights", "Darknet weights")
	modelNames   = flag.String("model-names", "models/coco.names", "Class names, one per line")
	annotatedOut = flag.String("annotated-out", "", "Write an annotated copy of the video here, or \"auto\" to name it after the input (single input only)")
	annotatedFPS = flag.Float64("annotated-fps", 30, "Frame rate of the annotated output")
	outputDir    = flag.String("output-dir", ".", "Directory annotated output must stay within")
	diagLog      = flag.Bool("diag", false, "Log per-video diagnostics")
	traceLog     = flag.Bool("trace", false, "Log per-frame telemetry")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrate(os.Args[2:])
		return
	}

	flag.Parse()
	if *showVersion {
		fmt.Println(version.Get())
		return
	}
	if flag.NArg() == 0 && *listen == "" {
		log.Fatal("Nothing to do: pass video paths and/or -listen")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	classes := cfg.GetClassesOfInterest()
	if err := database.SeedLabels(ctx, classes); err != nil {
		log.Fatalf("Failed to seed labels: %v", err)
	}
	labels, err := db.NewLabelCache(ctx, database)
	if err != nil {
		log.Fatalf("Failed to load labels: %v", err)
	}

	sink, closeSink, err := buildSink(database)
	if err != nil {
		log.Fatalf("Failed to set up event sinks: %v", err)
	}
	defer closeSink()

	spool := persist.NewSpool(cfg.GetSpoolPath())

	var queue *pipeline.VideoQueue
	if flag.NArg() > 0 {
		orch, cleanup, err := buildOrchestrator(cfg, database, labels, sink, spool, classes)
		if err != nil {
			log.Fatalf("Failed to set up pipeline: %v", err)
		}
		defer cleanup()
		if n, err := orch.Replay(ctx); err != nil {
			log.Printf("Spool replay incomplete: %v", err)
		} else if n > 0 {
			log.Printf("Replayed %d spooled events", n)
		}
		queue = pipeline.NewVideoQueue(orch, flag.Args()...)
	} else {
		ccfg := persist.CommitterConfigFromIndexer(cfg, persist.NewQueue(), sink)
		if n, err := spool.Replay(ctx, ccfg); err != nil {
			log.Printf("Spool replay incomplete: %v", err)
		} else if n > 0 {
			log.Printf("Replayed %d spooled events", n)
		}
	}

	serverDone := make(chan error, 1)
	if *listen != "" {
		handler, err := buildHandler(database, queue)
		if err != nil {
			log.Fatalf("Failed to set up HTTP routes: %v", err)
		}
		go func() { serverDone <- api.Serve(ctx, *listen, handler) }()
	} else {
		close(serverDone)
	}

	if queue != nil {
		failed, err := queue.Run(ctx)
		for _, item := range queue.Items() {
			logItem(item)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Processing stopped: %v", err)
		}
		if failed > 0 {
			log.Printf("%d of %d videos failed", failed, len(queue.Items()))
		}
		if !*serve {
			stop()
		}
	}

	if err := <-serverDone; err != nil {
		log.Printf("HTTP server error: %v", err)
	}
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	path := fs.String("db", defaultDBPath, "SQLite database path")
	if err := fs.Parse(args); err != nil {
		log.Fatal(err)
	}
	db.RunMigrateCommand(fs.Args(), *path)
}

func loadConfig(path string) (*config.IndexerConfig, error) {
	if path == "" {
		return config.EmptyIndexerConfig(), nil
	}
	return config.LoadIndexerConfig(path)
}

func setupLogging() {
	var diag, trace io.Writer
	if *diagLog {
		diag = os.Stderr
	}
	if *traceLog {
		trace = os.Stderr
	}
	pipeline.SetLogWriters(os.Stderr, diag, trace)
}

// buildSink returns the SQLite event store, fanned out to Kafka when
// KAFKA_BOOTSTRAP_SERVERS is set.
func buildSink(database *db.DB) (persist.Sink, func(), error) {
	sinks := persist.MultiSink{db.NewEventStore(database)}
	kcfg, err := config.LoadKafkaConfig(*envFile)
	if err != nil {
		return nil, nil, err
	}
	if !kcfg.Enabled() {
		return sinks, func() {}, nil
	}
	ks, err := kafka.NewSink(kcfg, nil)
	if err != nil {
		return nil, nil, err
	}
	return append(sinks, ks), func() { ks.Close(10 * time.Second) }, nil
}

func buildOrchestrator(cfg *config.IndexerConfig, database *db.DB, labels *db.LabelCache,
	sink persist.Sink, spool *persist.Spool, classes []string) (*pipeline.Orchestrator, func(), error) {
	trackerCfg, err := tracking.ConfigFromIndexer(cfg)
	if err != nil {
		return nil, nil, err
	}
	detector, err := opencv.NewDarknetDetector(opencv.DarknetConfigFromIndexer(cfg, *modelCfg, *modelWeights, *modelNames))
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { detector.Close() }

	pcfg := pipeline.Config{
		Opener:      opencv.Opener,
		Detector:    detector,
		Registry:    database,
		Resolver:    labels,
		Sink:        sink,
		Classes:     pipeline.NewClassFilter(classes...),
		Tracker:     trackerCfg,
		Committer:   persist.CommitterConfigFromIndexer(cfg, nil, nil),
		GracePeriod: cfg.GetGracePeriod(),
		Spool:       spool,
	}

	if *annotatedOut != "" {
		if flag.NArg() != 1 {
			detector.Close()
			return nil, nil, errors.New("-annotated-out needs exactly one input video")
		}
		outPath := *annotatedOut
		if outPath == "auto" {
			outPath, err = security.AnnotatedOutputPath(*outputDir, flag.Arg(0))
		} else {
			err = security.ValidatePathWithinDirectory(outPath, *outputDir)
		}
		if err != nil {
			detector.Close()
			return nil, nil, err
		}
		writer := opencv.NewAnnotatedWriter(outPath, *annotatedFPS)
		pcfg.OnFrame = writer.OnFrame
		cleanup = func() {
			if err := writer.Close(); err != nil {
				log.Printf("Annotated output: %v", err)
			}
			detector.Close()
		}
	}

	orch, err := pipeline.New(pcfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return orch, cleanup, nil
}

func buildHandler(database *db.DB, queue *pipeline.VideoQueue) (http.Handler, error) {
	mux := http.NewServeMux()
	if err := database.AttachAdminRoutes(mux); err != nil {
		return nil, err
	}
	var status api.QueueStatus
	if queue != nil {
		status = queue
	}
	mux.Handle("/api/", api.NewServer(database, status).Router())
	return api.LoggingMiddleware(mux), nil
}

func logItem(item pipeline.VideoItem) {
	if item.Result == nil {
		log.Printf("%s: %s", item.Path, item.Status)
		return
	}
	r := item.Result
	log.Printf("%s: %s (video %d, %d frames, %d events, %d committed, %d spooled) %s",
		item.Path, item.Status, r.VideoID, r.Frames, r.Events.Finalized,
		r.Commits.EventsCommitted, r.SpooledEvents, item.Error)
}
