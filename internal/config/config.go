package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendValkey   = "valkey"
)

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int

	// MessageBackend selects where messages and their read markers live.
	MessageBackend string
	MongoURI       string
	MongoDatabase  string

	// TypingBackend selects where typing indicators live.
	TypingBackend       string
	ValkeyAddr          string
	TypingSweepInterval time.Duration

	CORSOrigins []string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvPositiveInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(getenv(key, ""))
	if err != nil || v < 0 {
		return def
	}
	return v
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first; variables already set win over it.
func Load() Config {
	_ = godotenv.Load()

	var origins []string
	for _, o := range strings.Split(getenv("CORS_ORIGINS", ""), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=tarschat port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		Env:                   getenv("APP_ENV", "dev"),
		AccessTokenTTLMinutes: getenvPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getenvPositiveInt("REFRESH_TOKEN_TTL_DAYS", 7),
		MessageBackend:        getenv("MESSAGE_BACKEND", BackendPostgres),
		MongoURI:              getenv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:         getenv("MONGO_DATABASE", "tarschat"),
		TypingBackend:         getenv("TYPING_BACKEND", BackendPostgres),
		ValkeyAddr:            getenv("VALKEY_ADDR", "localhost:6379"),
		TypingSweepInterval:   getenvDuration("TYPING_SWEEP_INTERVAL", 0),
		CORSOrigins:           origins,
	}
}

// Validate rejects configurations the server must not start with.
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT must not be empty")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN must not be empty")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be changed outside dev")
	}
	switch cfg.MessageBackend {
	case "", BackendPostgres:
	case BackendMongo:
		if cfg.MongoURI == "" || cfg.MongoDatabase == "" {
			return errors.New("MONGO_URI and MONGO_DATABASE are required for the mongo message backend")
		}
	default:
		return errors.New("unknown MESSAGE_BACKEND " + strconv.Quote(cfg.MessageBackend))
	}
	switch cfg.TypingBackend {
	case "", BackendPostgres:
	case BackendValkey:
		if cfg.ValkeyAddr == "" {
			return errors.New("VALKEY_ADDR is required for the valkey typing backend")
		}
	default:
		return errors.New("unknown TYPING_BACKEND " + strconv.Quote(cfg.TypingBackend))
	}
	return nil
}
