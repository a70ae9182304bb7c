package sys

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultAIBaseURL     = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultStockURL      = "https://www.alphavantage.co/query"
	DefaultRembgPath     = "rembg"
	DefaultDownloadDir   = ".tracks"
	ReminderPollInterval = 60 * time.Second
	ReminderWarnBefore   = 15 * time.Minute
)

// Timeouts bounds every outbound call the bot makes.
var Timeouts = struct {
	Generation time.Duration
	Download   time.Duration
	Search     time.Duration
	Title      time.Duration
	StockAPI   time.Duration
}{
	Generation: 20 * time.Second,
	Download:   30 * time.Second,
	Search:     10 * time.Second,
	Title:      10 * time.Second,
	StockAPI:   15 * time.Second,
}

type Config struct {
	Token        string
	GuildID      string
	DatabasePath string
	GeminiAPIKey string
	AIBaseURL    string
	StockAPIKey  string
	StockURL     string
	RembgPath    string
	DownloadDir  string
	Silent       bool
	LogToFile    bool
}

var GlobalConfig *Config

// LoadConfig initializes the configuration from the environment and an optional .env file.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		folder := "."
		if info, err := os.Stat("data"); err == nil && info.IsDir() {
			folder = "./data"
		}
		dbPath = filepath.Join(folder, GetProjectName()+".db")
	}

	silent, _ := strconv.ParseBool(os.Getenv("SILENT"))
	logToFile, _ := strconv.ParseBool(os.Getenv("LOG_FILE"))

	cfg := &Config{
		Token:        strings.TrimSpace(os.Getenv("DISCORD_TOKEN")),
		GuildID:      strings.TrimSpace(os.Getenv("GUILD_ID")),
		DatabasePath: dbPath,
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		AIBaseURL:    envOr("AI_BASE_URL", DefaultAIBaseURL),
		StockAPIKey:  os.Getenv("ALPHA_VANTAGE_API_KEY"),
		StockURL:     envOr("ALPHA_VANTAGE_URL", DefaultStockURL),
		RembgPath:    envOr("REMBG_PATH", DefaultRembgPath),
		DownloadDir:  envOr("DOWNLOAD_DIR", DefaultDownloadDir),
		Silent:       silent,
		LogToFile:    logToFile,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}
	cfg.warnMissing()

	GlobalConfig = cfg
	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.GuildID != "" {
		if len(c.GuildID) < 17 || len(c.GuildID) > 20 {
			return fmt.Errorf("invalid GUILD_ID: must be a valid Snowflake")
		}
		if _, err := strconv.ParseUint(c.GuildID, 10, 64); err != nil {
			return fmt.Errorf("invalid GUILD_ID: must be numeric")
		}
	}
	return nil
}

func (c *Config) warnMissing() {
	if c.GeminiAPIKey == "" {
		LogWarn(MsgConfigFeatureDisabled, "GEMINI_API_KEY", "/question")
	}
	if c.StockAPIKey == "" {
		LogWarn(MsgConfigFeatureDisabled, "ALPHA_VANTAGE_API_KEY", "/stock-ticker, /stock-info")
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// GetProjectName derives a name for the bot from the executable or go.mod.
func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "cadence"
	if err == nil {
		projectName = strings.TrimSuffix(filepath.Base(exePath), ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") || strings.HasSuffix(projectName, ".test") {
			projectName = "cadence"
			if modData, err := os.ReadFile("go.mod"); err == nil {
				lines := strings.Split(string(modData), "\n")
				if len(lines) > 0 && strings.HasPrefix(lines[0], "module ") {
					parts := strings.Split(lines[0], "/")
					projectName = strings.TrimSpace(parts[len(parts)-1])
				}
			}
		}
	}
	return projectName
}
