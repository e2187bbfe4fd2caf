package datarecording

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Backend names a database kind.
type Backend string

// Supported backends.
const (
	BackendSQLite     Backend = "sqlite"
	BackendMySQL      Backend = "mysql"
	BackendClickHouse Backend = "clickhouse"
	BackendMongoDB    Backend = "mongodb"
)

// Environment variables read by RemoteConfigFromEnv.
const (
	EnvTraceAddr      = "TFSIM_TRACE_ADDR"
	EnvTraceUsername  = "TFSIM_TRACE_USERNAME"
	EnvTracePassword  = "TFSIM_TRACE_PASSWORD"
	EnvTraceDatabase  = "TFSIM_TRACE_DATABASE"
	EnvTraceBatchSize = "TFSIM_TRACE_BATCH_SIZE"
)

// DefaultDatabase is the database used by remote backends unless configured.
const DefaultDatabase = "tfsim"

// ParseBackend converts a backend name, ignoring case.
func ParseBackend(name string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(name)))

	switch b {
	case BackendSQLite, BackendMySQL, BackendClickHouse, BackendMongoDB:
		return b, nil
	case "":
		return BackendSQLite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

// RemoteConfig locates a database server.
type RemoteConfig struct {
	Addr      string
	Username  string
	Password  string
	Database  string
	BatchSize int
}

func (c RemoteConfig) validate() error {
	if c.Addr == "" {
		return errors.New("datarecording: server address is not set, " +
			"use environment variable " + EnvTraceAddr + " to set it")
	}

	if c.Database == "" {
		return errors.New("datarecording: database name is not set")
	}

	return nil
}

// RemoteConfigFromEnv reads the server location from the TFSIM_TRACE_*
// environment variables.
func RemoteConfigFromEnv() (RemoteConfig, error) {
	cfg := RemoteConfig{
		Addr:     os.Getenv(EnvTraceAddr),
		Username: os.Getenv(EnvTraceUsername),
		Password: os.Getenv(EnvTracePassword),
		Database: os.Getenv(EnvTraceDatabase),
	}

	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}

	if s := os.Getenv(EnvTraceBatchSize); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return cfg, fmt.Errorf("datarecording: %s: %w", EnvTraceBatchSize, err)
		}

		cfg.BatchSize = n
	}

	return cfg, nil
}

// Config selects and configures a backend.
type Config struct {
	Backend Backend

	// Path is the SQLite database name, without the .sqlite3 suffix.
	Path string

	Remote RemoteConfig
}

// Open creates the DataRecorder described by cfg.
func Open(cfg Config) (DataRecorder, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		return NewSQLiteRecorder(cfg.Path)
	case BackendMySQL:
		return NewMySQLRecorder(cfg.Remote)
	case BackendClickHouse:
		return NewClickHouseRecorder(cfg.Remote)
	case BackendMongoDB:
		return NewMongoDBRecorder(cfg.Remote)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
