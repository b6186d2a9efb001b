package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider identifies an LLM backend.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
)

// Storage backends.
const (
	StoreSQLite    = "sqlite"
	StoreSurrealDB = "surrealdb"
	StoreMemory    = "memory"
)

// Mention counting modes for merged entities.
const (
	MentionsSum      = "sum"
	MentionsDistinct = "distinct"
)

// ScanConfig holds windowing and pacing settings.
type ScanConfig struct {
	ChunkSize       int           `yaml:"chunk_size"`
	ChunkOverlap    int           `yaml:"chunk_overlap"`
	MaxChunks       int           `yaml:"max_chunks_per_scan"` // 0 = unlimited
	IncrementalMode bool          `yaml:"incremental_mode"`
	BatchSize       int           `yaml:"batch_size"`       // chunks between pacing delays
	RateLimitDelay  time.Duration `yaml:"rate_limit_delay"` // pacing delay
	OracleTimeout   time.Duration `yaml:"oracle_timeout"`
	LockStaleAfter  time.Duration `yaml:"lock_stale_after"`
	MentionCounting string        `yaml:"mention_counting"`
}

// FilterConfig holds the plausibility filter thresholds and risk weights.
type FilterConfig struct {
	DropThreshold float64 `yaml:"drop_threshold"`
	FlagThreshold float64 `yaml:"flag_threshold"`
	ConfidenceCap float64 `yaml:"confidence_cap"`

	NameAbsent        float64 `yaml:"name_absent"`
	NamePartial       float64 `yaml:"name_partial"`
	SuspiciousPattern float64 `yaml:"suspicious_pattern"`
	NeverMentioned    float64 `yaml:"never_mentioned"`
	DetailedSingle    float64 `yaml:"detailed_single_mention"`
	OverConfident     float64 `yaml:"over_confident"`
}

// Config holds all configuration values.
type Config struct {
	// Storage
	Store      string
	SQLitePath string

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// LLM
	LLMProvider     Provider
	LLMModel        string
	LLMTemperature  float64
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AWSRegion       string

	// Transcripts
	ChatsDir      string
	CharactersDir string
	ChatMappings  map[string]string // chat file -> character file

	Scan   ScanConfig
	Filter FilterConfig

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Notification server
	HTTPAddr string
}

// fileConfig mirrors config.yaml.
type fileConfig struct {
	Store struct {
		Backend    string `yaml:"backend"`
		SQLitePath string `yaml:"sqlite_path"`
		SurrealDB  struct {
			URL       string `yaml:"url"`
			Namespace string `yaml:"namespace"`
			Database  string `yaml:"database"`
			User      string `yaml:"user"`
			Pass      string `yaml:"pass"`
			AuthLevel string `yaml:"auth_level"`
		} `yaml:"surrealdb"`
	} `yaml:"store"`
	LLM struct {
		Provider        string   `yaml:"provider"`
		Model           string   `yaml:"model"`
		Temperature     *float64 `yaml:"temperature"`
		OllamaHost      string   `yaml:"ollama_host"`
		OpenAIAPIKey    string   `yaml:"openai_api_key"`
		AnthropicAPIKey string   `yaml:"anthropic_api_key"`
		AWSRegion       string   `yaml:"aws_region"`
	} `yaml:"llm"`
	SillyTavern struct {
		ChatsDir      string `yaml:"chats_dir"`
		CharactersDir string `yaml:"characters_dir"`
	} `yaml:"sillytavern"`
	ChatMappings map[string]string `yaml:"chat_mappings"`
	Scanning     *ScanConfig       `yaml:"scanning"`
	Filter       *FilterConfig     `yaml:"hallucination_filter"`
	Logging      struct {
		File  string `yaml:"file"`
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

// DefaultScanConfig returns the scanning defaults.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		ChunkSize:       20,
		ChunkOverlap:    5,
		MaxChunks:       10,
		IncrementalMode: true,
		BatchSize:       5,
		RateLimitDelay:  2 * time.Second,
		OracleTimeout:   120 * time.Second,
		LockStaleAfter:  30 * time.Minute,
		MentionCounting: MentionsSum,
	}
}

// DefaultFilterConfig returns the plausibility filter defaults.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		DropThreshold:     0.7,
		FlagThreshold:     0.5,
		ConfidenceCap:     0.6,
		NameAbsent:        0.5,
		NamePartial:       0.25,
		SuspiciousPattern: 0.3,
		NeverMentioned:    0.4,
		DetailedSingle:    0.2,
		OverConfident:     0.2,
	}
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store:      StoreSQLite,
		SQLitePath: "data/lorekeeper.db",

		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "lorekeeper",
		SurrealDBDatabase:  "lore",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",
		SurrealDBAuthLevel: "root",

		LLMProvider:    ProviderOllama,
		LLMModel:       "llama3.2",
		LLMTemperature: 0.3,
		OllamaHost:     "http://localhost:11434",
		AWSRegion:      "us-east-1",

		ChatMappings: map[string]string{},

		Scan:   DefaultScanConfig(),
		Filter: DefaultFilterConfig(),

		LogFile:  "/tmp/lorekeeper.log",
		LogLevel: slog.LevelInfo,

		HTTPAddr: ":8585",
	}
}

// Load reads configuration from defaults, then config.yaml, then environment variables.
// A missing config file is not an error; an unreadable or malformed one is logged and ignored.
func Load() Config {
	cfg := Default()

	path := getEnv("LOREKEEPER_CONFIG", "config.yaml")
	if err := cfg.MergeFile(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load config file, using defaults", "file", path, "error", err)
	}

	cfg.applyEnv()
	return cfg
}

// MergeFile overlays values from a YAML file onto cfg.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	setString(&c.Store, fc.Store.Backend)
	setString(&c.SQLitePath, fc.Store.SQLitePath)
	setString(&c.SurrealDBURL, fc.Store.SurrealDB.URL)
	setString(&c.SurrealDBNamespace, fc.Store.SurrealDB.Namespace)
	setString(&c.SurrealDBDatabase, fc.Store.SurrealDB.Database)
	setString(&c.SurrealDBUser, fc.Store.SurrealDB.User)
	setString(&c.SurrealDBPass, fc.Store.SurrealDB.Pass)
	setString(&c.SurrealDBAuthLevel, fc.Store.SurrealDB.AuthLevel)

	if fc.LLM.Provider != "" {
		c.LLMProvider = Provider(strings.ToLower(fc.LLM.Provider))
	}
	setString(&c.LLMModel, fc.LLM.Model)
	if fc.LLM.Temperature != nil {
		c.LLMTemperature = *fc.LLM.Temperature
	}
	setString(&c.OllamaHost, fc.LLM.OllamaHost)
	setString(&c.OpenAIAPIKey, fc.LLM.OpenAIAPIKey)
	setString(&c.AnthropicAPIKey, fc.LLM.AnthropicAPIKey)
	setString(&c.AWSRegion, fc.LLM.AWSRegion)

	setString(&c.ChatsDir, fc.SillyTavern.ChatsDir)
	setString(&c.CharactersDir, fc.SillyTavern.CharactersDir)
	for chat, character := range fc.ChatMappings {
		c.ChatMappings[chat] = character
	}

	// Sections decode over the current values so omitted keys keep their defaults.
	if fc.Scanning != nil {
		if err := decodeSection(data, "scanning", &c.Scan); err != nil {
			return err
		}
	}
	if fc.Filter != nil {
		if err := decodeSection(data, "hallucination_filter", &c.Filter); err != nil {
			return err
		}
	}

	setString(&c.LogFile, fc.Logging.File)
	if fc.Logging.Level != "" {
		c.LogLevel = parseLogLevel(fc.Logging.Level)
	}
	setString(&c.HTTPAddr, fc.Server.Addr)
	return nil
}

// decodeSection decodes one top-level YAML section into dst, keeping fields the section omits.
func decodeSection(data []byte, key string, dst any) error {
	var root map[string]yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return err
	}
	node, ok := root[key]
	if !ok {
		return nil
	}
	if err := node.Decode(dst); err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Store = getEnv("LOREKEEPER_STORE", c.Store)
	c.SQLitePath = getEnv("LOREKEEPER_SQLITE_PATH", c.SQLitePath)

	c.SurrealDBURL = getEnv("SURREALDB_URL", c.SurrealDBURL)
	c.SurrealDBNamespace = getEnv("SURREALDB_NAMESPACE", c.SurrealDBNamespace)
	c.SurrealDBDatabase = getEnv("SURREALDB_DATABASE", c.SurrealDBDatabase)
	c.SurrealDBUser = getEnv("SURREALDB_USER", c.SurrealDBUser)
	c.SurrealDBPass = getEnv("SURREALDB_PASS", c.SurrealDBPass)
	c.SurrealDBAuthLevel = getEnv("SURREALDB_AUTH_LEVEL", c.SurrealDBAuthLevel)

	c.LLMProvider = Provider(strings.ToLower(getEnv("LOREKEEPER_LLM_PROVIDER", string(c.LLMProvider))))
	c.LLMModel = getEnv("LOREKEEPER_LLM_MODEL", c.LLMModel)
	c.OllamaHost = getEnv("OLLAMA_HOST", c.OllamaHost)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.AWSRegion = getEnv("AWS_REGION", c.AWSRegion)

	c.ChatsDir = getEnv("LOREKEEPER_CHATS_DIR", c.ChatsDir)
	c.CharactersDir = getEnv("LOREKEEPER_CHARACTERS_DIR", c.CharactersDir)

	c.Scan.ChunkSize = getEnvInt("LOREKEEPER_CHUNK_SIZE", c.Scan.ChunkSize)
	c.Scan.ChunkOverlap = getEnvInt("LOREKEEPER_CHUNK_OVERLAP", c.Scan.ChunkOverlap)
	c.Scan.MaxChunks = getEnvInt("LOREKEEPER_MAX_CHUNKS", c.Scan.MaxChunks)
	c.Scan.IncrementalMode = getEnv("LOREKEEPER_INCREMENTAL", strconv.FormatBool(c.Scan.IncrementalMode)) == "true"
	c.Scan.BatchSize = getEnvInt("LOREKEEPER_BATCH_SIZE", c.Scan.BatchSize)
	c.Scan.RateLimitDelay = getEnvDuration("LOREKEEPER_RATE_LIMIT_DELAY", c.Scan.RateLimitDelay)
	c.Scan.OracleTimeout = getEnvDuration("LOREKEEPER_ORACLE_TIMEOUT", c.Scan.OracleTimeout)
	c.Scan.LockStaleAfter = getEnvDuration("LOREKEEPER_LOCK_STALE_AFTER", c.Scan.LockStaleAfter)
	c.Scan.MentionCounting = getEnv("LOREKEEPER_MENTION_COUNTING", c.Scan.MentionCounting)

	c.LogFile = getEnv("LOREKEEPER_LOG_FILE", c.LogFile)
	if lvl := os.Getenv("LOREKEEPER_LOG_LEVEL"); lvl != "" {
		c.LogLevel = parseLogLevel(lvl)
	}
	c.HTTPAddr = getEnv("LOREKEEPER_HTTP_ADDR", c.HTTPAddr)
}

// Validate reports configuration errors. It runs before any scan starts.
func (c Config) Validate() error {
	var errs []error

	switch c.Store {
	case StoreSQLite, StoreSurrealDB, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unsupported store backend: %q", c.Store))
	}
	switch c.LLMProvider {
	case ProviderOllama, ProviderOpenAI, ProviderAnthropic, ProviderBedrock:
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM provider: %q", c.LLMProvider))
	}

	s := c.Scan
	if s.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_size must be positive, got %d", s.ChunkSize))
	}
	if s.ChunkOverlap < 0 {
		errs = append(errs, fmt.Errorf("chunk_overlap must not be negative, got %d", s.ChunkOverlap))
	}
	if s.ChunkSize <= s.ChunkOverlap {
		errs = append(errs, fmt.Errorf("chunk_size (%d) must be greater than chunk_overlap (%d)", s.ChunkSize, s.ChunkOverlap))
	}
	if s.MaxChunks < 0 {
		errs = append(errs, fmt.Errorf("max_chunks_per_scan must not be negative, got %d", s.MaxChunks))
	}
	if s.BatchSize < 0 || s.RateLimitDelay < 0 {
		errs = append(errs, errors.New("pacing batch size and delay must not be negative"))
	}
	if s.MentionCounting != MentionsSum && s.MentionCounting != MentionsDistinct {
		errs = append(errs, fmt.Errorf("mention_counting must be %q or %q, got %q", MentionsSum, MentionsDistinct, s.MentionCounting))
	}

	f := c.Filter
	for name, v := range map[string]float64{
		"drop_threshold": f.DropThreshold,
		"flag_threshold": f.FlagThreshold,
		"confidence_cap": f.ConfidenceCap,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %g", name, v))
		}
	}
	if f.FlagThreshold > f.DropThreshold {
		errs = append(errs, fmt.Errorf("flag_threshold (%g) must not exceed drop_threshold (%g)", f.FlagThreshold, f.DropThreshold))
	}

	return errors.Join(errs...)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", val)
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", val)
		return defaultVal
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
