/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/txn"
)

// Backends accepted in Settings.Backend.
const (
	BackendMemory   = "memory"
	BackendMongoDB  = "mongodb"
	BackendDynamoDB = "dynamodb"
)

// Environment variables read by Load. Values found there override the file.
const (
	EnvBackend          = "ENTITYREPO_BACKEND"
	EnvMongoURI         = "MONGODB_URI"
	EnvMongoConnString  = "MongoDbConnectionString"
	EnvAWSRegion        = "AWS_REGION"
	EnvAWSAccessKey     = "AWS_ACCESS_KEY"
	EnvAWSSecretKey     = "AWS_SECRET_KEY"
	EnvAWSEndpoint      = "AWS_DDB_ENDPOINT"
	EnvAWSTablePrefix   = "AWS_DDB_TABLE"
	EnvTxMaxRetries     = "ENTITYREPO_TX_MAX_RETRIES"
	EnvTxStyle          = "ENTITYREPO_TX_STYLE"
	EnvTxBackoffInitial = "ENTITYREPO_TX_BACKOFF_INITIAL"
	EnvTxBackoffMax     = "ENTITYREPO_TX_BACKOFF_MAX"
	EnvLockTimeout      = "ENTITYREPO_LOCK_TIMEOUT"
	EnvLogLevel         = "ENTITYREPO_LOG_LEVEL"
)

// Settings configures a client.
type Settings struct {
	Backend      string       `yaml:"backend"`
	MongoURI     string       `yaml:"mongoUri"`
	AWS          AWS          `yaml:"aws"`
	Transactions Transactions `yaml:"transactions"`
	// LockTimeout bounds how long registry declarations wait for the
	// registry lock.
	LockTimeout time.Duration `yaml:"lockTimeout"`
	LogLevel    string        `yaml:"logLevel"`
}

// AWS holds the DynamoDB connection settings.
type AWS struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Endpoint  string `yaml:"endpoint"`
	// TablePrefix is prepended to every table name.
	TablePrefix string `yaml:"tablePrefix"`
}

// Transactions holds the defaults of the transaction orchestrator.
type Transactions struct {
	MaxRetries     int           `yaml:"maxRetries"`
	Style          string        `yaml:"style"`
	BackoffInitial time.Duration `yaml:"backoffInitial"`
	BackoffMax     time.Duration `yaml:"backoffMax"`
}

// Default returns the settings used when nothing overrides them.
func Default() Settings {
	return Settings{
		Backend: BackendMemory,
		Transactions: Transactions{
			MaxRetries:     3,
			Style:          txn.AmbientScope.String(),
			BackoffInitial: 10 * time.Millisecond,
			BackoffMax:     time.Second,
		},
		LockTimeout: 30 * time.Second,
		LogLevel:    "info",
	}
}

// Load starts from Default, applies the YAML file at path when path is not
// empty, loads envFiles (".env" when none are given) into the environment
// without overriding it, applies environment overrides and validates the
// result. Missing env files are ignored.
func Load(path string, envFiles ...string) (Settings, error) {
	s := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := s.applyEnv(); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.NewValidationError(name, err.Error())
		}
		*dst = d
		return nil
	}

	str(EnvBackend, &s.Backend)
	str(EnvMongoConnString, &s.MongoURI)
	str(EnvMongoURI, &s.MongoURI)
	str(EnvAWSRegion, &s.AWS.Region)
	str(EnvAWSAccessKey, &s.AWS.AccessKey)
	str(EnvAWSSecretKey, &s.AWS.SecretKey)
	str(EnvAWSEndpoint, &s.AWS.Endpoint)
	str(EnvAWSTablePrefix, &s.AWS.TablePrefix)
	str(EnvTxStyle, &s.Transactions.Style)
	str(EnvLogLevel, &s.LogLevel)

	if v, ok := os.LookupEnv(EnvTxMaxRetries); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.NewValidationError(EnvTxMaxRetries, err.Error())
		}
		s.Transactions.MaxRetries = n
	}
	for name, dst := range map[string]*time.Duration{
		EnvTxBackoffInitial: &s.Transactions.BackoffInitial,
		EnvTxBackoffMax:     &s.Transactions.BackoffMax,
		EnvLockTimeout:      &s.LockTimeout,
	} {
		if err := dur(name, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the settings are complete for the selected backend.
func (s Settings) Validate() error {
	var errs []error
	switch strings.ToLower(s.Backend) {
	case BackendMemory:
	case BackendMongoDB:
		if s.MongoURI == "" {
			errs = append(errs, errors.NewValidationError("mongoUri", "required for the mongodb backend"))
		}
	case BackendDynamoDB:
		if s.AWS.Region == "" {
			errs = append(errs, errors.NewValidationError("aws.region", "required for the dynamodb backend"))
		}
		if (s.AWS.AccessKey == "") != (s.AWS.SecretKey == "") {
			errs = append(errs, errors.NewValidationError("aws.secretKey", "access key and secret key must be set together"))
		}
	default:
		errs = append(errs, errors.NewValidationError("backend", fmt.Sprintf("unknown backend %q", s.Backend)))
	}

	if s.Transactions.MaxRetries < 0 {
		errs = append(errs, errors.NewValidationError("transactions.maxRetries", "must not be negative"))
	}
	if _, err := s.Style(); err != nil {
		errs = append(errs, errors.NewValidationError("transactions.style", err.Error()))
	}
	if s.Transactions.BackoffMax > 0 && s.Transactions.BackoffMax < s.Transactions.BackoffInitial {
		errs = append(errs, errors.NewValidationError("transactions.backoffMax", "must not be below backoffInitial"))
	}
	if s.LockTimeout <= 0 {
		errs = append(errs, errors.NewValidationError("lockTimeout", "must be positive"))
	}
	if _, err := s.Level(); err != nil {
		errs = append(errs, errors.NewValidationError("logLevel", err.Error()))
	}
	return stderrors.Join(errs...)
}

// Style is the parsed default transaction style.
func (s Settings) Style() (txn.Style, error) {
	return txn.ParseStyle(strings.ToLower(s.Transactions.Style))
}

// Level is the parsed log level.
func (s Settings) Level() (slog.Level, error) {
	var level slog.Level
	if s.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return 0, err
	}
	return level, nil
}

// Logger builds a text logger on stderr at the configured level.
func (s Settings) Logger() *slog.Logger {
	level, err := s.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
