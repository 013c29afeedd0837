package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	OpenAIKey      string
	OpenAIModel    string
	OpenAIBaseURL  string
	LLMTimeout     time.Duration
	LLMMaxAttempts int
	LLMConcurrency int

	RemoteDatabaseURL string
	LocalDBPath       string
	DataDir           string
	PlaceholdersFile  string

	ForumBaseURL      string
	MaxPages          int
	ListConcurrency   int
	DetailConcurrency int
	FetchMaxRetries   int
	FetchTimeout      time.Duration
	RateLimitMs       int
	ChromeBin         string

	KakaoAPIKey       string
	KakaoBaseURL      string
	GeocoderBaseURL   string
	GeocoderUserAgent string

	APIPort string
	LogDir  string
	Debug   bool
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		OpenAIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		LLMTimeout:     time.Duration(getEnvInt("LLM_TIMEOUT_SEC", 60)) * time.Second,
		LLMMaxAttempts: getEnvInt("LLM_MAX_ATTEMPTS", 3),
		LLMConcurrency: clamp(getEnvInt("LLM_CONCURRENCY", 1), 1, 5),

		RemoteDatabaseURL: getEnv("REMOTE_DATABASE_URL", ""),
		LocalDBPath:       getEnv("LOCAL_DB_PATH", "./data/fleamarket.db"),
		DataDir:           getEnv("DATA_DIR", "./data"),
		PlaceholdersFile:  getEnv("PLACEHOLDERS_FILE", ""),

		ForumBaseURL:      getEnv("FORUM_BASE_URL", "https://xn--oy2b2b112gxof.com/"),
		MaxPages:          getEnvInt("MAX_PAGES", 10),
		ListConcurrency:   getEnvInt("LIST_CONCURRENCY", 5),
		DetailConcurrency: getEnvInt("DETAIL_CONCURRENCY", 10),
		FetchMaxRetries:   getEnvInt("FETCH_MAX_RETRIES", 3),
		FetchTimeout:      time.Duration(getEnvInt("FETCH_TIMEOUT_SEC", 10)) * time.Second,
		RateLimitMs:       getEnvInt("RATE_LIMIT_MS", 0),
		ChromeBin:         getEnv("CHROME_BIN", ""),

		KakaoAPIKey:       getEnv("KAKAO_REST_API_KEY", ""),
		KakaoBaseURL:      getEnv("KAKAO_BASE_URL", "https://dapi.kakao.com"),
		GeocoderBaseURL:   getEnv("GEOCODER_BASE_URL", "https://nominatim.openstreetmap.org/search"),
		GeocoderUserAgent: getEnv("GEOCODER_USER_AGENT", "fleamarket-scraper/1.0"),

		APIPort: getEnv("API_PORT", "8080"),
		LogDir:  getEnv("LOG_DIR", "./logs"),
		Debug:   getEnvBool("DEBUG", false),
	}
}

// Requirements lists which credentials a command needs.
type Requirements struct {
	Completion bool
	Remote     bool
}

// Validate reports missing credentials for the given requirements.
func (c *Config) Validate(req Requirements) error {
	var errs []error
	if req.Completion && c.OpenAIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is not set"))
	}
	if req.Remote && c.RemoteDatabaseURL == "" {
		errs = append(errs, errors.New("REMOTE_DATABASE_URL is not set"))
	}
	if c.LLMMaxAttempts < 1 {
		errs = append(errs, errors.New("LLM_MAX_ATTEMPTS must be at least 1"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
