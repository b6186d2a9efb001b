// Package db stores checkpoints, scan history and the review queue in SurrealDB.
package db

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"

	"github.com/raphaelgruber/lorekeeper/internal/config"
)

func init() {
	// WebSocket upgrade fails under HTTP/2 ALPN negotiation.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// Pipeline tables, in the order they are wiped.
const (
	tableQueue       = "entity_queue"
	tableScanHistory = "scan_history"
	tableCheckpoint  = "processing_checkpoint"
)

var pipelineTables = []string{tableQueue, tableScanHistory, tableCheckpoint}

// Auth levels accepted by Config.AuthLevel.
const (
	AuthRoot     = "root"
	AuthDatabase = "database"
)

// Config holds SurrealDB connection configuration.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // AuthRoot or AuthDatabase; empty means root
}

// Validate reports missing connection settings.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.URL) == "" {
		errs = append(errs, errors.New("surrealdb url is required"))
	} else if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
		errs = append(errs, fmt.Errorf("surrealdb url must use ws:// or wss://, got %q", c.URL))
	}
	if c.Namespace == "" || c.Database == "" {
		errs = append(errs, errors.New("surrealdb namespace and database are required"))
	}
	switch c.AuthLevel {
	case "", AuthRoot, AuthDatabase:
	default:
		errs = append(errs, fmt.Errorf("surrealdb auth_level must be %q or %q, got %q", AuthRoot, AuthDatabase, c.AuthLevel))
	}
	return errors.Join(errs...)
}

// rpcBaseURL strips the /rpc suffix; gorillaws appends it itself.
func rpcBaseURL(url string) string {
	return strings.TrimSuffix(strings.TrimRight(url, "/"), "/rpc")
}

// Client wraps a SurrealDB connection with auto-reconnect.
type Client struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	cfg    Config
	logger logger.Logger
}

// NewClient connects, signs in and selects the pipeline namespace.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("surrealdb config: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	sdkLogger := logger.New(log.With("store", config.StoreSurrealDB).Handler())

	// surrealcbor handles SurrealDB's custom CBOR tags
	codec := surrealcbor.New()
	baseURL := rpcBaseURL(cfg.URL)

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			}), nil
		},
		5*time.Second,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = 1 * time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = 10
	conn.Retryer = retryer

	sdkLogger.Info("connecting to SurrealDB", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("from connection: %w", err)
	}

	c := &Client{conn: conn, db: db, cfg: cfg, logger: sdkLogger}
	if err := c.signIn(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("use %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}

	sdkLogger.Info("SurrealDB store ready", "namespace", cfg.Namespace, "database", cfg.Database)
	return c, nil
}

func (c *Client) signIn(ctx context.Context) error {
	auth := surrealdb.Auth{Username: c.cfg.Username, Password: c.cfg.Password}
	if c.cfg.AuthLevel == AuthDatabase {
		auth.Namespace = c.cfg.Namespace
		auth.Database = c.cfg.Database
	}
	c.logger.Info("authenticating", "user", c.cfg.Username, "auth_level", c.cfg.AuthLevel)
	if _, err := c.db.SignIn(ctx, auth); err != nil {
		return fmt.Errorf("signin: %w", err)
	}
	return nil
}

// Close closes the SurrealDB connection.
func (c *Client) Close() error {
	c.logger.Info("closing SurrealDB connection")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.conn.Close(ctx)
}

// InitSchema defines the pipeline tables and logs how many records each holds.
func (c *Client) InitSchema(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, c.db, SchemaSQL, nil); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	counts, err := c.Counts(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("schema ready",
		"checkpoints", counts[tableCheckpoint],
		"scans", counts[tableScanHistory],
		"queued", counts[tableQueue])
	return nil
}

// Counts returns the number of records in each pipeline table.
func (c *Client) Counts(ctx context.Context) (map[string]int, error) {
	type countRow struct {
		Count int `json:"count"`
	}
	out := make(map[string]int, len(pipelineTables))
	for _, table := range pipelineTables {
		results, err := surrealdb.Query[[]countRow](ctx, c.db,
			`SELECT count() AS count FROM type::table($table) GROUP ALL`,
			map[string]any{"table": table})
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", table, wrapQueryError(err))
		}
		if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
			out[table] = (*results)[0].Result[0].Count
		} else {
			out[table] = 0
		}
	}
	return out, nil
}

// WipeData deletes every checkpoint, scan record and queue entry while
// keeping the schema. Use for testing only.
func (c *Client) WipeData(ctx context.Context) error {
	counts, err := c.Counts(ctx)
	if err != nil {
		return err
	}
	for _, table := range pipelineTables {
		if _, err := surrealdb.Query[any](ctx, c.db, fmt.Sprintf("DELETE %s", table), nil); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	c.logger.Warn("wiped pipeline data",
		"checkpoints", counts[tableCheckpoint],
		"scans", counts[tableScanHistory],
		"queued", counts[tableQueue])
	return nil
}

// ConfigFrom builds the connection config from application configuration.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}
}
