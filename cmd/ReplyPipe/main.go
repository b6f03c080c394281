package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BTreeMap/ReplyPipe/internal/api"
	"github.com/BTreeMap/ReplyPipe/internal/genai"
	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/BTreeMap/ReplyPipe/internal/util"
	"github.com/BTreeMap/ReplyPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ReplyPipe state data
	DefaultStateDir = "/var/lib/replypipe"
	// DefaultWhatsAppDBFileName is the default SQLite file for the WhatsApp session
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultAuditDBFileName is the default SQLite file for the audit log
	DefaultAuditDBFileName = "replypipe.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	// Build module options
	waOpts := buildWhatsAppOptions(flags)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping ReplyPipe with configured modules")
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "store", len(storeOpts), "genai", len(genaiOpts), "api", len(apiOpts))
	if err := api.Run(waOpts, storeOpts, genaiOpts, apiOpts); err != nil {
		slog.Error("ReplyPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ReplyPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	WhatsAppDBDSN string
	AuditDBDSN    string
	StateDir      string
	KnowledgeDir  string
	OpenAIKey     string
	APIAddr       string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput     *string
	numeric      *bool
	stateDir     *string
	knowledgeDir *string
	whatsappDSN  *string
	auditDSN     *string
	openaiKey    *string
	apiAddr      *string
	twilio       *bool
}

// initializeLogger sets up structured logging; REPLYPIPE_DEBUG enables debug level
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("REPLYPIPE_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		WhatsAppDBDSN: os.Getenv("WHATSAPP_DB_DSN"),
		AuditDBDSN:    os.Getenv("DATABASE_DSN"),
		StateDir:      os.Getenv("REPLYPIPE_STATE_DIR"),
		KnowledgeDir:  os.Getenv("KNOWLEDGE_DIR"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		APIAddr:       os.Getenv("API_ADDR"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No REPLYPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// Legacy DATABASE_URL feeds the audit store when DATABASE_DSN is not set
	if config.AuditDBDSN == "" {
		config.AuditDBDSN = os.Getenv("DATABASE_URL")
		if config.AuditDBDSN != "" {
			slog.Debug("Using DATABASE_URL as DATABASE_DSN")
		}
	}

	// Default both databases to SQLite files in the state directory
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = filepath.Join(config.StateDir, DefaultWhatsAppDBFileName)
		slog.Debug("No WhatsApp DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDBDSN)
	}
	if config.AuditDBDSN == "" {
		config.AuditDBDSN = filepath.Join(config.StateDir, DefaultAuditDBFileName)
		slog.Debug("No audit DSN provided, defaulting to SQLite", "sqlite_path", config.AuditDBDSN)
	}

	slog.Debug("environment variables loaded",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"DATABASE_DSN_SET", config.AuditDBDSN != "",
		"REPLYPIPE_STATE_DIR", config.StateDir,
		"KNOWLEDGE_DIR", config.KnowledgeDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:     flag.String("qr-output", "", "path to write login QR code"),
		numeric:      flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for ReplyPipe data (overrides $REPLYPIPE_STATE_DIR)"),
		knowledgeDir: flag.String("knowledge-dir", config.KnowledgeDir, "knowledge base directory (overrides $KNOWLEDGE_DIR)"),
		whatsappDSN:  flag.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "database DSN for the WhatsApp session (overrides $WHATSAPP_DB_DSN)"),
		auditDSN:     flag.String("db-dsn", config.AuditDBDSN, "database DSN for the audit log (overrides $DATABASE_DSN or $DATABASE_URL)"),
		openaiKey:    flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		twilio:       flag.Bool("twilio", util.ParseBoolEnv("MESSAGING_CHANNEL_TWILIO", false), "use the Twilio WhatsApp Business API channel (overrides $MESSAGING_CHANNEL_TWILIO)"),
	}

	flag.Parse()

	// Follow an overridden state directory for DSNs still pointing at defaults
	if *flags.stateDir != config.StateDir {
		if *flags.whatsappDSN == filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) {
			*flags.whatsappDSN = filepath.Join(*flags.stateDir, DefaultWhatsAppDBFileName)
		}
		if *flags.auditDSN == filepath.Join(config.StateDir, DefaultAuditDBFileName) {
			*flags.auditDSN = filepath.Join(*flags.stateDir, DefaultAuditDBFileName)
		}
	}

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"knowledgeDir", *flags.knowledgeDir,
		"whatsappDSN_set", *flags.whatsappDSN != "",
		"auditDSN_set", *flags.auditDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr)

	return flags
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.whatsappDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDSN))
	}
	return waOpts
}

// buildStoreOptions constructs audit store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.auditDSN != "" {
		if store.DetectDSNType(*flags.auditDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL audit store")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.auditDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite audit store", "db_path", *flags.auditDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.auditDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory audit store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	apiOpts := []api.Option{api.WithStateDir(*flags.stateDir)}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.knowledgeDir != "" {
		apiOpts = append(apiOpts, api.WithKnowledgeDir(*flags.knowledgeDir))
	}
	if *flags.twilio {
		apiOpts = append(apiOpts, api.WithTwilioChannel())
	}
	return apiOpts
}
