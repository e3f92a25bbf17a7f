package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mdp/qrterminal/v3"

	"github.com/BTreeMap/AvatarStudy/internal/api"
	"github.com/BTreeMap/AvatarStudy/internal/genai"
	"github.com/BTreeMap/AvatarStudy/internal/lockfile"
	"github.com/BTreeMap/AvatarStudy/internal/recovery"
	"github.com/BTreeMap/AvatarStudy/internal/roster"
	"github.com/BTreeMap/AvatarStudy/internal/scheduler"
	"github.com/BTreeMap/AvatarStudy/internal/store"
	"github.com/BTreeMap/AvatarStudy/internal/study"
	"github.com/BTreeMap/AvatarStudy/internal/transcript"
	"github.com/BTreeMap/AvatarStudy/internal/upload"
	"github.com/BTreeMap/AvatarStudy/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for AvatarStudy state data
	DefaultStateDir = "/var/lib/avatarstudy"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "avatarstudy.db"
)

func main() {
	// Bootstrap logging so configuration loading is visible; the final
	// handler is installed once flags are known.
	initializeLogger(slog.LevelInfo)

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)

	closer, err := configureLogging(flags)
	if err != nil {
		slog.Error("Failed to configure logging", "error", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping AvatarStudy")
	if err := run(ctx, flags); err != nil {
		slog.Error("AvatarStudy failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("AvatarStudy exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir           string
	DatabaseURL        string
	APIAddr            string
	OpenAIKey          string
	DataPipeEndpoint   string
	ExperimentID       string
	RosterFile         string
	EntryURL           string
	AllowedOrigin      string
	LogFile            string
	UploadRetrySpec    string
	MinPractice        int
	MinMain            int
	Debug              bool
	PrePracticeURL     string
	PerCharacterURL    string
	ReadinessSurveyURL string
}

// Flags holds command line flag values
type Flags struct {
	stateDir        *string
	dbDSN           *string
	apiAddr         *string
	openaiKey       *string
	endpoint        *string
	experimentID    *string
	rosterFile      *string
	entryURL        *string
	allowedOrigin   *string
	logFile         *string
	retrySpec       *string
	minPractice     *int
	minMain         *int
	debug           *bool
	prePracticeURL  *string
	perCharacterURL *string
	readinessURL    *string
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	survey := study.DefaultSurvey()
	config := Config{
		StateDir:           os.Getenv("AVATARSTUDY_STATE_DIR"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		APIAddr:            os.Getenv("API_ADDR"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		DataPipeEndpoint:   envOr("DATAPIPE_ENDPOINT", upload.DefaultEndpoint),
		ExperimentID:       envOr("DATAPIPE_EXPERIMENT_ID", upload.DefaultExperimentID),
		RosterFile:         os.Getenv("AVATARSTUDY_ROSTER"),
		EntryURL:           os.Getenv("AVATARSTUDY_ENTRY_URL"),
		AllowedOrigin:      os.Getenv("AVATARSTUDY_ALLOWED_ORIGIN"),
		LogFile:            os.Getenv("AVATARSTUDY_LOG_FILE"),
		UploadRetrySpec:    envOr("AVATARSTUDY_UPLOAD_RETRY_CRON", scheduler.DefaultUploadRetrySpec),
		MinPractice:        util.ParseIntEnv("AVATARSTUDY_MIN_PRACTICE", study.DefaultMinPracticeInteractions),
		MinMain:            util.ParseIntEnv("AVATARSTUDY_MIN_MAIN", study.DefaultMinMainInteractions),
		Debug:              util.ParseBoolEnv("AVATARSTUDY_DEBUG", false),
		PrePracticeURL:     envOr("SURVEY_PRE_PRACTICE_URL", survey.PrePracticeURL),
		PerCharacterURL:    envOr("SURVEY_PER_CHARACTER_URL", survey.PerCharacterURL),
		ReadinessSurveyURL: envOr("SURVEY_READINESS_URL", survey.ReadinessURL),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No AVATARSTUDY_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}
	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"AVATARSTUDY_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"API_ADDR", config.APIAddr,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"DATAPIPE_ENDPOINT", config.DataPipeEndpoint,
		"AVATARSTUDY_ROSTER", config.RosterFile,
		"AVATARSTUDY_MIN_MAIN", config.MinMain)

	return config
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) Flags {
	flags := Flags{
		stateDir:        fs.String("state-dir", config.StateDir, "state directory for AvatarStudy data (overrides $AVATARSTUDY_STATE_DIR)"),
		dbDSN:           fs.String("db-dsn", config.DatabaseURL, "SQLite path or Postgres DSN for the study store (overrides $DATABASE_URL)"),
		apiAddr:         fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		openaiKey:       fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key enabling the built-in chat backend (overrides $OPENAI_API_KEY)"),
		endpoint:        fs.String("datapipe-endpoint", config.DataPipeEndpoint, "transcript upload endpoint (overrides $DATAPIPE_ENDPOINT)"),
		experimentID:    fs.String("experiment-id", config.ExperimentID, "DataPipe experiment ID (overrides $DATAPIPE_EXPERIMENT_ID)"),
		rosterFile:      fs.String("roster", config.RosterFile, "JSON character roster replacing the built-in one (overrides $AVATARSTUDY_ROSTER)"),
		entryURL:        fs.String("entry-url", config.EntryURL, "participant entry URL to print as a QR code (overrides $AVATARSTUDY_ENTRY_URL)"),
		allowedOrigin:   fs.String("allowed-origin", config.AllowedOrigin, "CORS origin of the front-end (overrides $AVATARSTUDY_ALLOWED_ORIGIN)"),
		logFile:         fs.String("log-file", config.LogFile, "write JSON logs to this rotated file instead of stdout (overrides $AVATARSTUDY_LOG_FILE)"),
		retrySpec:       fs.String("upload-retry-cron", config.UploadRetrySpec, "cron expression for retrying archived uploads, empty disables (overrides $AVATARSTUDY_UPLOAD_RETRY_CRON)"),
		minPractice:     fs.Int("min-practice", config.MinPractice, "participant turns required per practice character"),
		minMain:         fs.Int("min-main", config.MinMain, "participant turns required per main-study character"),
		debug:           fs.Bool("debug", config.Debug, "debug logging and OpenAI request dumps"),
		prePracticeURL:  fs.String("survey-pre-practice", config.PrePracticeURL, "survey shown after the intro"),
		perCharacterURL: fs.String("survey-per-character", config.PerCharacterURL, "survey shown after each main-study character"),
		readinessURL:    fs.String("survey-readiness", config.ReadinessSurveyURL, "AI readiness survey"),
	}

	fs.Parse(args)

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"openaiKeySet", *flags.openaiKey != "",
		"roster", *flags.rosterFile,
		"minPractice", *flags.minPractice,
		"minMain", *flags.minMain)

	// Follow a -state-dir override when the DSN is still the default SQLite path.
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// application holds the wired modules run needs beyond the HTTP server.
type application struct {
	server  *api.Server
	machine *study.Machine
	archive *upload.Archive
}

// run wires every module and serves until ctx is cancelled.
func run(ctx context.Context, flags Flags) error {
	lock, err := lockfile.Acquire(*flags.stateDir, lockfile.CurrentOwner(*flags.apiAddr))
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	app, err := buildApplication(flags, st)
	if err != nil {
		return err
	}

	// Recovery problems are logged; the server still starts.
	if err := newRecoveryManager(app).RecoverAll(ctx); err != nil {
		slog.Warn("Startup recovery incomplete", "error", err)
	}

	sched, err := startScheduler(ctx, *flags.retrySpec, app.archive)
	if err != nil {
		return err
	}
	defer sched.Stop()

	if *flags.entryURL != "" {
		printEntryQR(os.Stdout, *flags.entryURL)
	}
	return app.server.Run(ctx)
}

func newRecoveryManager(app *application) *recovery.Manager {
	rm := recovery.NewManager()
	rm.Register("sessions", app.machine)
	rm.Register("uploads", app.archive)
	return rm
}

// startScheduler schedules the archived upload retry. An empty expression disables it.
func startScheduler(ctx context.Context, expr string, archive *upload.Archive) (*scheduler.Scheduler, error) {
	sched := scheduler.NewScheduler()
	if expr == "" {
		slog.Info("Archived upload retry disabled")
		return sched, nil
	}
	err := sched.AddContextJob(ctx, "upload-retry", expr, func(ctx context.Context) error {
		n, err := archive.RetryFailed(ctx)
		if n > 0 {
			slog.Info("Archived uploads delivered", "count", n)
		}
		return err
	})
	if err != nil {
		sched.Stop()
		return nil, fmt.Errorf("invalid upload retry schedule %q: %w", expr, err)
	}
	slog.Info("Archived upload retry scheduled", "expr", expr)
	return sched, nil
}

// buildApplication assembles the study machine and API server on top of st.
func buildApplication(flags Flags, st store.Store) (*application, error) {
	r, err := loadRoster(*flags.rosterFile)
	if err != nil {
		return nil, err
	}

	survey := study.Survey{
		PrePracticeURL:  *flags.prePracticeURL,
		PerCharacterURL: *flags.perCharacterURL,
		ReadinessURL:    *flags.readinessURL,
	}
	if err := survey.Validate(); err != nil {
		return nil, err
	}

	archive := upload.NewArchive(upload.NewDataPipe(buildUploadOptions(flags)...), st)
	if failed, err := archive.Failed(); err == nil && len(failed) > 0 {
		slog.Warn("Archived transcript uploads are waiting for retry", "count", len(failed))
	}

	tm := transcript.NewManager(st)
	machine := study.NewMachine(st, r, archive, tm,
		study.WithSurvey(survey),
		study.WithMinInteractions(*flags.minPractice, *flags.minMain),
	)

	apiOpts, err := buildAPIOptions(flags)
	if err != nil {
		return nil, err
	}
	apiOpts = append(apiOpts, api.WithArchive(archive))
	return &application{
		server:  api.NewServer(machine, apiOpts...),
		machine: machine,
		archive: archive,
	}, nil
}

func loadRoster(path string) (*roster.Roster, error) {
	if path == "" {
		return roster.Default(), nil
	}
	r, err := roster.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster %s: %w", path, err)
	}
	slog.Info("Loaded character roster", "path", path, "characters", r.Len())
	return r, nil
}

// buildUploadOptions constructs DataPipe configuration options
func buildUploadOptions(flags Flags) []upload.Option {
	var opts []upload.Option
	if *flags.endpoint != "" {
		opts = append(opts, upload.WithEndpoint(*flags.endpoint))
	}
	if *flags.experimentID != "" {
		opts = append(opts, upload.WithExperimentID(*flags.experimentID))
	}
	return opts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.debug {
		genaiOpts = append(genaiOpts, genai.WithDebugMode(*flags.stateDir))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options. The chat
// backend is only enabled when an OpenAI key is configured.
func buildAPIOptions(flags Flags) ([]api.Option, error) {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.allowedOrigin != "" {
		apiOpts = append(apiOpts, api.WithAllowedOrigin(*flags.allowedOrigin))
	}
	if *flags.openaiKey != "" {
		client, err := genai.NewClient(buildGenAIOptions(flags)...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize GenAI client: %w", err)
		}
		apiOpts = append(apiOpts, api.WithConversations(genai.NewConversations(client)))
		slog.Info("Built-in chat backend enabled")
	}
	return apiOpts, nil
}

// printEntryQR renders the participant entry URL for lab sessions.
func printEntryQR(w io.Writer, url string) {
	fmt.Fprintf(w, "Participant entry URL: %s\n", url)
	qrterminal.GenerateHalfBlock(url, qrterminal.L, w)
}
