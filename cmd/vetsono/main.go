// Command vetsono turns a veterinary ultrasound dictation into a structured
// clinician report: transcription, fact extraction, impression extraction,
// analysis synthesis and report assembly, with every intermediate persisted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/pkruczek/vetsono/internal/config"
	"github.com/pkruczek/vetsono/internal/examstore"
	"github.com/pkruczek/vetsono/internal/extract"
	"github.com/pkruczek/vetsono/internal/health"
	"github.com/pkruczek/vetsono/internal/normalize"
	"github.com/pkruczek/vetsono/internal/observe"
	"github.com/pkruczek/vetsono/internal/pipeline"
	"github.com/pkruczek/vetsono/internal/report"
	"github.com/pkruczek/vetsono/internal/resilience"
	"github.com/pkruczek/vetsono/internal/synth"
	"github.com/pkruczek/vetsono/internal/transcribe"
	"github.com/pkruczek/vetsono/pkg/provider/llm"
	"github.com/pkruczek/vetsono/pkg/provider/llm/anyllm"
	oaillm "github.com/pkruczek/vetsono/pkg/provider/llm/openai"
	"github.com/pkruczek/vetsono/pkg/provider/stt"
	"github.com/pkruczek/vetsono/pkg/provider/stt/whisper"
	"github.com/pkruczek/vetsono/pkg/provider/stt/whispercli"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	audioPath := flag.String("audio", "", "path to the exam recording to process")
	audioDir := flag.String("audio-dir", "", "process every recording in a directory (exam IDs derived from file names)")
	jobs := flag.Int("jobs", 2, "concurrent exams when processing a directory")
	transcriptPath := flag.String("transcript", "", "path to an already transcribed exam text (skips the audio stage)")
	examID := flag.String("exam-id", "", "exam identifier (derived from the input file name when empty)")
	stage := flag.String("stage", "", "re-run a single stage for an existing exam: transcript, facts, impression, analysis or report")
	list := flag.Bool("list", false, "print the identifiers of every stored exam and exit")
	opsAddr := flag.String("ops-addr", "", "override the ops endpoint address from the config file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vetsono: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vetsono: %v\n", err)
		}
		return 1
	}
	if *opsAddr != "" {
		cfg.Server.OpsAddr = *opsAddr
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("vetsono starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"llm", cfg.Providers.LLM.Name,
		"stt", cfg.Providers.STT.Name,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	llmProvider, err := buildLLM(cfg.Providers)
	if err != nil {
		slog.Error("failed to build LLM provider", "err", err)
		return 1
	}
	sttProvider, err := buildSTT(cfg.Providers)
	if err != nil {
		slog.Error("failed to build transcription provider", "err", err)
		return 1
	}

	// ── Exam store ────────────────────────────────────────────────────────────
	var (
		store examstore.Store
		pool  *pgxpool.Pool
	)
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pool, err = pgxpool.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pool.Close()

		pg := examstore.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate exam store", "err", err)
			return 1
		}
		store = pg
		slog.Info("exam store ready", "backend", "postgres")
	} else {
		store = examstore.NewMemoryStore()
		slog.Info("exam store ready", "backend", "memory")
	}

	// ── Stages ────────────────────────────────────────────────────────────────
	dict, err := normalize.NewDictionary(normalize.DefaultRules())
	if err != nil {
		slog.Error("failed to build correction dictionary", "err", err)
		return 1
	}
	snapper := normalize.NewSnapper(normalize.DefaultVocabulary())

	orchestrator := transcribe.New(sttProvider, dict, snapper, transcribeOptions(cfg.Transcription)...)
	extractor := extract.New(llmProvider, extractOptions(cfg.Extraction)...)

	synthesizer, err := synth.New(llmProvider, synthOptions(cfg.Synthesis)...)
	if err != nil {
		slog.Error("failed to build synthesizer", "err", err)
		return 1
	}

	antiLoop := normalize.AntiLoopConfig{
		Threshold: cfg.Transcription.AntiLoop.Threshold,
		Keep:      cfg.Transcription.AntiLoop.Keep,
	}
	assembler := report.New(report.WithAntiLoop(antiLoop))

	pipe, err := pipeline.New(pipeline.Deps{
		Store:      store,
		Transcribe: orchestrator,
		Extract:    extractor,
		Synth:      synthesizer,
		Report:     assembler,
		LLMModel:   cfg.Providers.LLM.Model,
	})
	if err != nil {
		slog.Error("failed to assemble pipeline", "err", err)
		return 1
	}

	// ── Ops endpoint ──────────────────────────────────────────────────────────
	var opsServer *http.Server
	if cfg.Server.OpsAddr != "" {
		opsServer = newOpsServer(cfg, pool, llmProvider)
		go func() {
			slog.Info("ops endpoint listening", "addr", cfg.Server.OpsAddr)
			if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("ops endpoint error", "err", err)
			}
		}()
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	exitCode := 0
	if err := dispatch(ctx, pipe, dispatchArgs{
		examID:         *examID,
		audioPath:      *audioPath,
		audioDir:       *audioDir,
		transcriptPath: *transcriptPath,
		stage:          *stage,
		jobs:           *jobs,
		list:           *list,
	}); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("interrupted")
		} else {
			slog.Error("pipeline failed", "err", err)
		}
		exitCode = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	if opsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("ops endpoint shutdown error", "err", err)
		}
	}
	return exitCode
}

type dispatchArgs struct {
	examID         string
	audioPath      string
	audioDir       string
	transcriptPath string
	stage          string
	jobs           int
	list           bool
}

// dispatch picks the pipeline entry point matching the CLI flags and prints
// the stored report on success.
func dispatch(ctx context.Context, pipe *pipeline.Pipeline, args dispatchArgs) error {
	switch {
	case args.list:
		ids, err := pipe.List(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil

	case args.stage != "":
		if args.examID == "" {
			return errors.New("-stage requires -exam-id")
		}
		return pipe.RunStage(ctx, args.examID, args.stage, args.audioPath)

	case args.transcriptPath != "":
		raw, err := os.ReadFile(args.transcriptPath)
		if err != nil {
			return fmt.Errorf("read transcript: %w", err)
		}
		id := args.examID
		if id == "" {
			id = deriveExamID(args.transcriptPath)
		}
		if err := pipe.RunFromTranscript(ctx, id, string(raw)); err != nil {
			return err
		}
		return printReport(ctx, pipe, id)

	case args.audioDir != "":
		return runBatch(ctx, pipe, args.audioDir, args.jobs)

	case args.audioPath != "":
		id := args.examID
		if id == "" {
			id = deriveExamID(args.audioPath)
		}
		if err := pipe.Run(ctx, id, args.audioPath); err != nil {
			return err
		}
		return printReport(ctx, pipe, id)

	default:
		return errors.New("nothing to do: pass -audio, -audio-dir, -transcript, -list, or -stage with -exam-id")
	}
}

// audioExtensions lists recording formats the transcription backends accept.
var audioExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".ogg": true, ".flac": true,
}

// runBatch processes every recording in dir, at most jobs exams at a time.
// A failed exam does not stop the rest of the batch; the first error is
// reported once all exams finish.
func runBatch(ctx context.Context, pipe *pipeline.Pipeline, dir string, jobs int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read audio dir: %w", err)
	}
	if jobs < 1 {
		jobs = 1
	}

	// Plain group, not WithContext: one failed exam must not cancel its
	// siblings. Ctrl+C still cancels everything through ctx.
	var g errgroup.Group
	g.SetLimit(jobs)

	var scheduled int
	for _, entry := range entries {
		if entry.IsDir() || !audioExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		scheduled++
		path := filepath.Join(dir, entry.Name())
		id := deriveExamID(path)
		g.Go(func() error {
			if err := pipe.Run(ctx, id, path); err != nil {
				slog.Error("exam failed", "exam_id", id, "audio", path, "err", err)
				return fmt.Errorf("exam %s: %w", id, err)
			}
			slog.Info("exam complete", "exam_id", id, "audio", path)
			return nil
		})
	}
	if scheduled == 0 {
		return fmt.Errorf("no audio files found in %s", dir)
	}

	err = g.Wait()
	slog.Info("batch finished", "scheduled", scheduled)
	return err
}

func printReport(ctx context.Context, pipe *pipeline.Pipeline, id string) error {
	rec, err := pipe.Record(ctx, id)
	if err != nil {
		return err
	}
	fmt.Println(rec.Report)
	return nil
}

// deriveExamID builds a stable-enough identifier from the input file name
// and the wall clock, for callers that do not manage IDs themselves.
func deriveExamID(inputPath string) string {
	base := filepath.Base(inputPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s-%s", base, time.Now().Format("20060102-150405"))
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildLLM constructs the primary LLM provider and, when fallbacks are
// configured, wraps the chain in a circuit-broken failover group.
func buildLLM(cfg config.ProvidersConfig) (llm.Provider, error) {
	primary, err := buildLLMEntry(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("providers.llm: %w", err)
	}
	if len(cfg.LLMFallbacks) == 0 {
		return primary, nil
	}

	group := resilience.NewLLMFallback(primary, providerLabel(cfg.LLM), resilience.FallbackConfig{})
	for i, entry := range cfg.LLMFallbacks {
		fb, err := buildLLMEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("providers.llm_fallbacks[%d]: %w", i, err)
		}
		group.AddFallback(providerLabel(entry), fb)
	}
	return group, nil
}

func buildLLMEntry(entry config.ProviderEntry) (llm.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)

	case "anyllm":
		backend := optString(entry.Options, "backend")
		if backend == "" {
			return nil, errors.New(`anyllm requires an options.backend (e.g. "ollama", "anthropic")`)
		}
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(backend, entry.Model, opts...)

	default:
		return nil, fmt.Errorf("unknown LLM provider %q", entry.Name)
	}
}

// buildSTT constructs the primary transcription provider and, when fallbacks
// are configured, wraps the chain in a circuit-broken failover group.
func buildSTT(cfg config.ProvidersConfig) (stt.Provider, error) {
	primary, err := buildSTTEntry(cfg.STT)
	if err != nil {
		return nil, fmt.Errorf("providers.stt: %w", err)
	}
	if len(cfg.STTFallbacks) == 0 {
		return primary, nil
	}

	group := resilience.NewSTTFallback(primary, providerLabel(cfg.STT), resilience.FallbackConfig{})
	for i, entry := range cfg.STTFallbacks {
		fb, err := buildSTTEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("providers.stt_fallbacks[%d]: %w", i, err)
		}
		group.AddFallback(providerLabel(entry), fb)
	}
	return group, nil
}

func buildSTTEntry(entry config.ProviderEntry) (stt.Provider, error) {
	switch entry.Name {
	case "whispercli":
		binaryPath := optString(entry.Options, "binary_path")
		modelPath := optString(entry.Options, "model_path")
		var opts []whispercli.Option
		if threads := optInt(entry.Options, "threads"); threads > 0 {
			opts = append(opts, whispercli.WithThreads(threads))
		}
		return whispercli.New(binaryPath, modelPath, opts...)

	case "whisper":
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		return whisper.New(modelPath)

	default:
		return nil, fmt.Errorf("unknown STT provider %q", entry.Name)
	}
}

// providerLabel names a provider instance in failover logs and metrics.
func providerLabel(entry config.ProviderEntry) string {
	if entry.Model != "" {
		return entry.Name + "/" + entry.Model
	}
	return entry.Name
}

// ── Stage options ───────────────────────────────────────────────────────────

func transcribeOptions(cfg config.TranscriptionConfig) []transcribe.Option {
	var opts []transcribe.Option
	if cfg.Language != "" {
		opts = append(opts, transcribe.WithLanguage(cfg.Language))
	}
	if cfg.LowBeam > 0 || cfg.HighBeam > 0 {
		opts = append(opts, transcribe.WithBeamSizes(cfg.LowBeam, cfg.HighBeam))
	}
	if cfg.RetryThreshold > 0 {
		opts = append(opts, transcribe.WithRetryThreshold(cfg.RetryThreshold))
	}
	if cfg.RunTimeout.Std() > 0 {
		opts = append(opts, transcribe.WithTimeout(cfg.RunTimeout.Std()))
	}
	if cfg.AntiLoop.Threshold > 0 || cfg.AntiLoop.Keep > 0 {
		opts = append(opts, transcribe.WithAntiLoop(normalize.AntiLoopConfig{
			Threshold: cfg.AntiLoop.Threshold,
			Keep:      cfg.AntiLoop.Keep,
		}))
	}
	return opts
}

func extractOptions(cfg config.ExtractionConfig) []extract.Option {
	var opts []extract.Option
	if cfg.MaxInputChars > 0 {
		opts = append(opts, extract.WithMaxInputChars(cfg.MaxInputChars))
	}
	if cfg.MaxOutputTokens > 0 {
		opts = append(opts, extract.WithMaxOutputTokens(cfg.MaxOutputTokens))
	}
	return opts
}

func synthOptions(cfg config.SynthesisConfig) []synth.Option {
	var opts []synth.Option
	if cfg.MaxOutputTokens > 0 {
		opts = append(opts, synth.WithMaxOutputTokens(cfg.MaxOutputTokens))
	}
	if len(cfg.Rewrites) > 0 {
		rewrites := make([]synth.Rewrite, len(cfg.Rewrites))
		for i, r := range cfg.Rewrites {
			rewrites[i] = synth.Rewrite{Name: r.Name, Pattern: r.Pattern, Replacement: r.Replacement}
		}
		opts = append(opts, synth.WithRewrites(rewrites))
	}
	return opts
}

// ── Ops endpoint ────────────────────────────────────────────────────────────

func newOpsServer(cfg *config.Config, pool *pgxpool.Pool, llmProvider llm.Provider) *http.Server {
	var checkers []health.Checker
	if pool != nil {
		checkers = append(checkers, health.Database(pool))
	}
	if cfg.Providers.STT.Name == "whispercli" {
		if binary := optString(cfg.Providers.STT.Options, "binary_path"); binary != "" {
			checkers = append(checkers, health.WhisperBinary(binary))
		}
	}
	checkers = append(checkers, health.LLM(llmProvider))

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:              cfg.Server.OpsAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Helpers ─────────────────────────────────────────────────────────────────

// newLogger builds a JSON slog logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case config.LogDebug:
		slogLevel = slog.LevelDebug
	case config.LogWarn:
		slogLevel = slog.LevelWarn
	case config.LogError:
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel}))
}

// optString reads a string value from a provider's free-form options map.
func optString(options map[string]any, key string) string {
	if options == nil {
		return ""
	}
	if v, ok := options[key].(string); ok {
		return v
	}
	return ""
}

// optInt reads an integer value from a provider's free-form options map.
// YAML decodes unquoted numbers as int.
func optInt(options map[string]any, key string) int {
	if options == nil {
		return 0
	}
	if v, ok := options[key].(int); ok {
		return v
	}
	return 0
}
