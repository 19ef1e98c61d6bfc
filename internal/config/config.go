// Package config provides functionality for managing configuration options
// for the application using command-line flags, an optional JSON config
// file and environment variables, in that order of precedence.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"
)

// Storage backends selectable with STORAGE.
const (
	StorageMongo    = "mongo"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
	StorageFile     = "file"
)

// Options holds the configuration values for the application.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string `json:"port"`

	// Storage selects the record backend.
	Storage string `json:"storage"`

	MongoUser     string `json:"mongo_user"`
	MongoPass     string `json:"mongo_pass"`
	MongoCluster  string `json:"mongo_cluster"`
	MongoURL      string `json:"mongodb_uri"`
	MongoDatabase string `json:"mongo_database"`

	// DatabaseDSN holds the PostgreSQL connection string.
	DatabaseDSN string `json:"database_dsn"`

	// DataFile is the JSON file used by the file backend.
	DataFile string `json:"data_file"`

	// JWTSecret signs and verifies tokens.
	JWTSecret string `json:"jwt_secret"`

	// Resources is a comma separated list of collections to serve.
	Resources string `json:"resources"`

	LogLevel string `json:"log_level"`

	TLSCert string `json:"tls_cert"`
	TLSKey  string `json:"tls_key"`

	ConnectTimeout time.Duration `json:"-"`
	RetryInterval  time.Duration `json:"-"`

	// Config is the path to the Config file.
	Config string `json:"-"`
}

// Parse reads os.Args and the environment. Invalid configuration is fatal.
func Parse() *Options {
	opts, err := Load(os.Args[1:], os.LookupEnv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return opts
}

// Load builds Options from args and the lookup function. Flags set the
// base values, the JSON config file overrides them and environment
// variables override both.
func Load(args []string, lookup func(string) (string, bool)) (*Options, error) {
	opts := &Options{}
	fs := flag.NewFlagSet("dockeeper", flag.ContinueOnError)
	fs.StringVar(&opts.Port, "a", ":3000", "run on ip:port server")
	fs.StringVar(&opts.Storage, "s", StorageMongo, "storage backend: mongo, postgres, memory or file")
	fs.StringVar(&opts.MongoURL, "m", "", "mongodb connection uri")
	fs.StringVar(&opts.MongoDatabase, "mongo-db", "test-database", "mongodb database name")
	fs.StringVar(&opts.DatabaseDSN, "d", "", "postgres dsn")
	fs.StringVar(&opts.DataFile, "f", "data/usersDB.json", "data file for the file backend")
	fs.StringVar(&opts.Resources, "r", "students", "comma separated collections to serve")
	fs.StringVar(&opts.LogLevel, "l", "info", "log level")
	fs.StringVar(&opts.TLSCert, "tls-cert", "", "TLS certificate file")
	fs.StringVar(&opts.TLSKey, "tls-key", "", "TLS key file")
	fs.DurationVar(&opts.ConnectTimeout, "connect-timeout", 10*time.Second, "storage connect timeout")
	fs.DurationVar(&opts.RetryInterval, "retry-interval", 5*time.Second, "storage reconnect interval")
	fs.StringVar(&opts.Config, "config", "config.json", "path to config file")
	fs.StringVar(&opts.Config, "c", "config.json", "path to config file (shorthand)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	env := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	env("CONFIG", &opts.Config)
	if opts.Config != "" {
		if err := readFile(opts.Config, opts); err != nil {
			return nil, err
		}
	}

	if port, ok := lookup("PORT"); ok && port != "" {
		opts.Port = ":" + port
	}
	env("SERVER_ADDRESS", &opts.Port)
	env("STORAGE", &opts.Storage)
	env("MONGO_USER", &opts.MongoUser)
	env("MONGO_PASS", &opts.MongoPass)
	env("MONGO_CLUSTER", &opts.MongoCluster)
	env("MONGODB_URI", &opts.MongoURL)
	env("MONGO_DATABASE", &opts.MongoDatabase)
	env("DATABASE_DSN", &opts.DatabaseDSN)
	env("DATA_FILE", &opts.DataFile)
	env("JWT_SECRET", &opts.JWTSecret)
	env("RESOURCES", &opts.Resources)
	env("LOG_LEVEL", &opts.LogLevel)
	env("TLS_CERT", &opts.TLSCert)
	env("TLS_KEY", &opts.TLSKey)

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// readFile merges the JSON file at path into opts. A missing file is not
// an error.
func readFile(path string, opts *Options) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := json.Unmarshal(data, opts); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// Validate checks the storage selection and its required settings.
func (o *Options) Validate() error {
	switch o.Storage {
	case StorageMongo, StorageMemory:
	case StoragePostgres:
		if o.DatabaseDSN == "" {
			return fmt.Errorf("storage %q requires DATABASE_DSN", o.Storage)
		}
	case StorageFile:
		if o.DataFile == "" {
			return fmt.Errorf("storage %q requires DATA_FILE", o.Storage)
		}
	default:
		return fmt.Errorf("unknown storage %q", o.Storage)
	}
	if len(o.ResourceList()) == 0 {
		return fmt.Errorf("no resources configured")
	}
	if (o.TLSCert == "") != (o.TLSKey == "") {
		return fmt.Errorf("TLS_CERT and TLS_KEY must be set together")
	}
	return nil
}

// ResourceList returns the configured collection names.
func (o *Options) ResourceList() []string {
	var out []string
	for _, r := range strings.Split(o.Resources, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// MongoURI returns MONGODB_URI when set, otherwise an Atlas SRV URI built
// from the user, password and cluster, otherwise a local default.
func (o *Options) MongoURI() string {
	if o.MongoURL != "" {
		return o.MongoURL
	}
	if o.MongoCluster == "" {
		return "mongodb://localhost:27017"
	}
	u := url.URL{
		Scheme:   "mongodb+srv",
		Host:     o.MongoCluster,
		Path:     "/",
		RawQuery: "retryWrites=true&w=majority&appName=Cluster0",
	}
	if o.MongoUser != "" {
		u.User = url.UserPassword(o.MongoUser, o.MongoPass)
	}
	return u.String()
}

// TLS reports whether HTTPS is configured.
func (o *Options) TLS() bool {
	return o.TLSCert != ""
}
