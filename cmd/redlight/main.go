package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"

	"redlight/internal/auth"
	"redlight/internal/config"
	"redlight/internal/crosswalk"
	"redlight/internal/database"
	"redlight/internal/detection"
	"redlight/internal/lightcolor"
	"redlight/internal/pipeline"
	"redlight/internal/pipeline/detectors"
	"redlight/internal/stream"
	"redlight/internal/telegram"
	"redlight/internal/timeutil"
	"redlight/internal/tracker"
	"redlight/internal/ws"
)

// options are the process-level settings. Tuning lives in the JSON config.
type options struct {
	source        string
	sourceID      string
	fps           int
	listen        string
	tuningPath    string
	dbPath        string
	detectorHTTP  string
	detectorGRPC  string
	detectorOrder string
	trackerMode   string
	locatorMode   string
	lineY         float64
	lineFraction  float64
	jpegQuality   int
	statsEvery    int
	authUser      string
	authPassword  string
	jwtSecret     string
	tgToken       string
	tgChat        string
	tgCooldown    int
	debug         bool
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseOptions(args []string) (*options, error) {
	parser := argparse.NewParser("redlight", "Detect red light violations in a video stream")
	source := parser.String("s", "source", &argparse.Options{Help: "Video file, rtsp:// or http(s):// URL, or /dev/video* device", Default: envOr("REDLIGHT_SOURCE", "")})
	sourceID := parser.String("", "source-id", &argparse.Options{Help: "Identifier reported in events", Default: "cam1"})
	fps := parser.Int("", "fps", &argparse.Options{Help: "Capture rate for live sources (0 keeps the native rate)", Default: 0})
	listen := parser.String("l", "listen", &argparse.Options{Help: "HTTP listen address", Default: envOr("REDLIGHT_LISTEN", ":8080")})
	tuningPath := parser.String("c", "config", &argparse.Options{Help: "Tuning config JSON file", Default: envOr("REDLIGHT_CONFIG", "")})
	dbPath := parser.String("", "db", &argparse.Options{Help: "SQLite database for runtime overrides (empty disables persistence)", Default: envOr("REDLIGHT_DB", "redlight.db")})
	detectorHTTP := parser.String("", "detector-http", &argparse.Options{Help: "HTTP detection service URL", Default: envOr("REDLIGHT_DETECTOR_HTTP", "")})
	detectorGRPC := parser.String("", "detector-grpc", &argparse.Options{Help: "gRPC detection service address", Default: envOr("REDLIGHT_DETECTOR_GRPC", "")})
	detectorOrder := parser.String("", "detectors", &argparse.Options{Help: "Detector preference order", Default: "grpc,http"})
	trackerMode := parser.Selector("", "tracker", []string{"local", "remote"}, &argparse.Options{Help: "Use the built-in IoU tracker or the detection service's tracker", Default: "local"})
	locatorMode := parser.Selector("", "locator", []string{"zebra", "static"}, &argparse.Options{Help: "Violation line locator", Default: "zebra"})
	lineY := parser.Float("", "line-y", &argparse.Options{Help: "Fixed violation line y (static locator)", Default: 0.0})
	lineFraction := parser.Float("", "line-fraction", &argparse.Options{Help: "Violation line as a fraction of frame height (static locator)", Default: 0.0})
	jpegQuality := parser.Int("", "jpeg-quality", &argparse.Options{Help: "Annotated frame JPEG quality", Default: 85})
	statsEvery := parser.Int("", "stats-every", &argparse.Options{Help: "Send websocket stats every N frames", Default: 5})
	authUser := parser.String("", "admin-user", &argparse.Options{Help: "Admin username", Default: envOr("REDLIGHT_ADMIN_USER", "admin")})
	authPassword := parser.String("", "admin-password", &argparse.Options{Help: "Admin password or bcrypt hash; enables auth", Default: envOr("REDLIGHT_ADMIN_PASSWORD", "")})
	jwtSecret := parser.String("", "jwt-secret", &argparse.Options{Help: "JWT signing secret", Default: envOr("REDLIGHT_JWT_SECRET", "")})
	tgToken := parser.String("", "telegram-token", &argparse.Options{Help: "Telegram bot token", Default: envOr("TELEGRAM_BOT_TOKEN", "")})
	tgChat := parser.String("", "telegram-chat", &argparse.Options{Help: "Telegram chat ID", Default: envOr("TELEGRAM_CHAT_ID", "")})
	tgCooldown := parser.Int("", "telegram-cooldown", &argparse.Options{Help: "Seconds between alerts for the same vehicle", Default: 30})
	debug := parser.Flag("", "debug", &argparse.Options{Help: "Log request and response bodies"})

	if err := parser.Parse(args); err != nil {
		return nil, errors.New(parser.Usage(err))
	}
	if *source == "" {
		return nil, errors.New(parser.Usage("a video source is required (--source or REDLIGHT_SOURCE)"))
	}

	return &options{
		source:        *source,
		sourceID:      *sourceID,
		fps:           *fps,
		listen:        *listen,
		tuningPath:    *tuningPath,
		dbPath:        *dbPath,
		detectorHTTP:  *detectorHTTP,
		detectorGRPC:  *detectorGRPC,
		detectorOrder: *detectorOrder,
		trackerMode:   *trackerMode,
		locatorMode:   *locatorMode,
		lineY:         *lineY,
		lineFraction:  *lineFraction,
		jpegQuality:   *jpegQuality,
		statsEvery:    *statsEvery,
		authUser:      *authUser,
		authPassword:  *authPassword,
		jwtSecret:     *jwtSecret,
		tgToken:       *tgToken,
		tgChat:        *tgChat,
		tgCooldown:    *tgCooldown,
		debug:         *debug,
	}, nil
}

func main() {
	logger, err := logs.NewLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	opts, err := parseOptions(os.Args)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	if err := run(opts, logger); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(opts *options, logger logs.Log) error {
	base := config.EmptyTuningConfig()
	if opts.tuningPath != "" {
		cfg, err := config.LoadTuningConfig(opts.tuningPath)
		if err != nil {
			return err
		}
		base = cfg
	}

	var db *database.Database
	if opts.dbPath != "" {
		var err error
		db, err = database.New(opts.dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}
	}

	clock := timeutil.RealClock{}
	bus := pipeline.NewEventBus()
	defer bus.Close()

	tuning, registry, err := buildDetection(opts, base, db, logger)
	if err != nil {
		return err
	}
	defer registry.Close()
	effective := tuning.Effective()

	trk, err := buildTracker(opts, effective, registry, logger)
	if err != nil {
		return err
	}

	processor := pipeline.NewProcessor(pipeline.SettingsFromTuning(effective), pipeline.Collaborators{
		Detector:   registry.Failover(),
		Tracker:    trk,
		Classifier: buildClassifier(logger),
		Locator:    buildLocator(opts, logger),
	}, clock, logger)
	tuning.processor = processor

	slot := pipeline.NewFrameSlot()
	source := pipeline.NewFFmpegSource(pipeline.FFmpegSourceConfig{
		SourceID: opts.sourceID,
		Device:   opts.source,
		FPS:      opts.fps,
	}, logger)
	detectionPipeline := pipeline.NewDetectionPipeline(opts.sourceID, source, processor, bus, pipeline.PipelineOptions{
		Annotator: stream.NewAnnotator(opts.jpegQuality),
		Slot:      slot,
		Clock:     clock,
		Log:       logger,
	})

	hub := ws.NewHub(opts.statsEvery, logger)
	defer hub.Close()
	bus.Subscribe(hub)
	bus.SubscribeStatus(hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tgConfig := telegram.Config{BotToken: opts.tgToken, ChatID: opts.tgChat, CooldownSeconds: opts.tgCooldown}
	if err := telegram.ValidateConfig(tgConfig); err != nil {
		return err
	}
	if tgConfig.Enabled() {
		bot := telegram.NewTelegramBot(tgConfig)
		if info, err := bot.GetBotInfo(ctx); err != nil {
			logger.Warnf("Telegram bot check failed: %v", err)
		} else {
			logger.Infof("Telegram alerts enabled via @%s", info.Username)
		}
		notifier := telegram.NewNotifier(bot, opts.tgCooldown, clock, logger)
		notifier.Start(ctx)
		defer notifier.Close()
		bus.Subscribe(notifier)
	}

	authenticator, err := auth.NewAuthenticator(auth.Options{
		Enabled:  opts.authPassword != "",
		Username: opts.authUser,
		Password: opts.authPassword,
		Secret:   opts.jwtSecret,
	})
	if err != nil {
		return err
	}
	if !authenticator.IsEnabled() {
		logger.Warnf("No admin password configured, write endpoints are unprotected")
	}

	api := &apiServer{
		processor: processor,
		status:    detectionPipeline,
		tuning:    tuning,
		auth:      authenticator,
		registry:  registry,
		hub:       hub,
		mjpeg:     stream.NewMJPEGServer(slot, logger),
		snapshot:  stream.NewSnapshotHandler(slot),
		log:       logger,
	}

	errc := make(chan error, 2)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	handleHTTPServer(ctx, opts.listen, api, &wg, errc, logger, opts.debug)

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := detectionPipeline.Run(ctx)
		switch {
		case err == nil:
			logger.Infof("Pipeline finished, still serving until interrupted")
		case errors.Is(err, context.Canceled):
		default:
			logger.Errorf("Pipeline stopped: %v", err)
		}
	}()

	logger.Infof("Exiting (%v)", <-errc)
	cancel()
	wg.Wait()
	logger.Infof("Exited")
	return nil
}

func buildRegistry(opts *options, cfg *config.TuningConfig, logger logs.Log) (*detectors.Registry, error) {
	registry := detectors.NewRegistry()
	conf := float32(cfg.GetDetectorConfidence())

	if opts.detectorHTTP != "" {
		d := detection.NewHTTPDetector(detection.HTTPDetectorConfig{Endpoint: opts.detectorHTTP, ConfThreshold: conf}, logger)
		if err := registry.Register(d); err != nil {
			return nil, err
		}
	}
	if opts.detectorGRPC != "" {
		d, err := detection.NewGRPCDetector(detection.GRPCDetectorConfig{Endpoint: opts.detectorGRPC, ConfThreshold: conf}, logger)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(d); err != nil {
			return nil, err
		}
	}
	if registry.Len() == 0 {
		return nil, errors.New("no detector configured (--detector-http or --detector-grpc)")
	}
	registry.Prefer(splitList(opts.detectorOrder))
	return registry, nil
}

// buildDetection loads the stored tuning override before the detection
// backends are built, so startup-only values such as detector_confidence
// come from the effective config
func buildDetection(opts *options, base *config.TuningConfig, db *database.Database, logger logs.Log) (*tuningStore, *detectors.Registry, error) {
	tuning := newTuningStore(base, db, logger)
	if err := tuning.Load(); err != nil {
		return nil, nil, err
	}
	registry, err := buildRegistry(opts, tuning.Effective(), logger)
	if err != nil {
		return nil, nil, err
	}
	return tuning, registry, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func buildTracker(opts *options, cfg *config.TuningConfig, registry *detectors.Registry, logger logs.Log) (pipeline.Tracker, error) {
	if opts.trackerMode == "local" {
		return tracker.NewIoUTracker(tracker.Config{
			IoUThreshold: float32(cfg.GetTrackerIoU()),
			MaxAge:       cfg.GetTrackerMaxAge(),
		}, logger), nil
	}
	for _, d := range registry.Backends() {
		if t, ok := d.(pipeline.Tracker); ok {
			logger.Infof("Using %s detection service for tracking", d.Name())
			return t, nil
		}
	}
	return nil, errors.New("no configured detector supports remote tracking")
}

// buildClassifier tries strict HSV thresholds first, then relaxed ones for
// washed out or night footage
func buildClassifier(logger logs.Log) pipeline.LightClassifier {
	relaxed := lightcolor.DefaultHSVConfig()
	relaxed.MinSaturation = 0.25
	relaxed.MinValue = 0.35
	return lightcolor.NewChain(logger,
		lightcolor.NewHSVClassifier(lightcolor.DefaultHSVConfig()),
		lightcolor.NewHSVClassifier(relaxed),
	)
}

func buildLocator(opts *options, logger logs.Log) pipeline.LineLocator {
	if opts.locatorMode == "static" || opts.lineY > 0 || opts.lineFraction > 0 {
		return &crosswalk.StaticLocator{FixedY: float32(opts.lineY), Fraction: float32(opts.lineFraction)}
	}
	return crosswalk.NewZebraLocator(logger)
}
