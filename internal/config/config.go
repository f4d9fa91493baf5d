package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config holds the configuration settings for the ingestion service.
//
// Fields:
// - Env: The current environment (e.g., local, development, production).
// - Port: The port of the HTTP server.
// - ProviderType: The geocoding provider to use (nominatim, google, visicom).
// - APIKey: The API key of the provider (required for google and visicom).
// - ProviderURL: Endpoint override for a self-hosted nominatim.
// - RateLimit: Requests per second allowed against the provider.
// - GeocodeTimeout: Upper bound of a single geocoding request.
// - GeocodeDelay: Pause after every successful geocoding request.
// - Store: The storage backend (postgres or sqlite).
// - SQLitePath: The database file used by the sqlite backend.
// - Database: Configuration settings for the PostgreSQL database.
type Config struct {
	Env            string
	Port           int
	ProviderType   string
	APIKey         string
	ProviderURL    string
	RateLimit      int
	GeocodeTimeout time.Duration
	GeocodeDelay   time.Duration
	Store          string
	SQLitePath     string
	Database       PostgresConfig
}

// PostgresConfig struct holds the configuration details for connecting to a PostgreSQL database.
type PostgresConfig struct {
	Host     string // Host is the database server address.
	Port     string // Port is the database server port.
	User     string // User is the database user.
	Password string // Password is the database user's password.
	Name     string // Name is the name of the database.
}

// MustLoad reads the configuration from the environment, loading a .env file first when
// present. It panics on values that cannot be parsed.
func MustLoad() *Config {
	_ = godotenv.Load()

	port, err := strconv.Atoi(setDefaultEnv("HERMES_PORT", "8080"))
	if err != nil {
		panic("failed to parse server port from configuration")
	}

	rateLimit, err := strconv.Atoi(setDefaultEnv("HERMES_PROVIDER_RATE", "0"))
	if err != nil {
		panic("failed to parse provider rate limit from configuration, must be an integer type")
	}

	timeout, err := time.ParseDuration(setDefaultEnv("HERMES_GEOCODE_TIMEOUT", "10s"))
	if err != nil {
		panic("failed to parse geocode timeout from configuration")
	}

	delay, err := time.ParseDuration(setDefaultEnv("HERMES_GEOCODE_DELAY", "1s"))
	if err != nil {
		panic("failed to parse geocode delay from configuration")
	}

	store := setDefaultEnv("HERMES_STORE", StorePostgres)
	if store != StorePostgres && store != StoreSQLite {
		panic("unsupported store in configuration, must be postgres or sqlite")
	}

	return &Config{
		Env:            setDefaultEnv("HERMES_ENV", "production"),
		Port:           port,
		ProviderType:   setDefaultEnv("HERMES_PROVIDER_TYPE", "nominatim"),
		APIKey:         os.Getenv("HERMES_PROVIDER_KEY"),
		ProviderURL:    os.Getenv("HERMES_PROVIDER_URL"),
		RateLimit:      rateLimit,
		GeocodeTimeout: timeout,
		GeocodeDelay:   delay,
		Store:          store,
		SQLitePath:     setDefaultEnv("HERMES_SQLITE_PATH", "hermes.db"),
		Database: PostgresConfig{
			Host:     os.Getenv("DB_HOST"),
			Port:     setDefaultEnv("DB_PORT", "5432"),
			User:     os.Getenv("DB_USERNAME"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     os.Getenv("DB_NAME"),
		},
	}
}

func setDefaultEnv(key, override string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		value = override
	}

	return value
}
