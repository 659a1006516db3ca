// Package bootstrap wires notificaties-core's shared infrastructure:
// structured logging configured Cloud-Logging style, and the Postgres
// pool + Store that every subcommand in cmd/notificaties-core needs.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/open-zaak/open-notificaties/pkg/config"
	"github.com/open-zaak/open-notificaties/pkg/store"
)

// Service holds every dependency a subcommand needs: the connection
// pool, the Store built on top of it, and the resolved Config.
type Service struct {
	Pool   *pgxpool.Pool
	Store  *store.Store
	Config config.Config
}

// GetSlogHandlerOptions returns handler options that map slog's
// standard keys onto Cloud-Logging-compatible ones.
func GetSlogHandlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: a.Value}
			}
			if a.Key == slog.LevelKey {
				return slog.Attr{Key: "severity", Value: a.Value}
			}
			return a
		},
	}
}

// ComponentHandler wraps a slog.Handler to prepend [component] to the
// message body, reading the "component" attr off the record.
type ComponentHandler struct {
	slog.Handler
	component string // lifted out of Logger.With attrs by WithAttrs
}

// WithAttrs implements slog.Handler, keeping the wrapper in place and
// lifting a "component" attr out so Handle can still prefix it.
func (h *ComponentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	component, rest := h.component, make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		if a.Key == "component" {
			component = a.Value.String()
			continue
		}
		rest = append(rest, a)
	}
	return &ComponentHandler{Handler: h.Handler.WithAttrs(rest), component: component}
}

// Handle implements slog.Handler.
func (h *ComponentHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component

	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = a.Value.String()
			return false
		}
		return true
	})

	if component != "" {
		newMsg := fmt.Sprintf("[%s] %s", component, r.Message)
		newRecord := slog.NewRecord(r.Time, r.Level, newMsg, r.PC)
		r.Attrs(func(a slog.Attr) bool {
			if a.Key != "component" {
				newRecord.AddAttrs(a)
			}
			return true
		})
		r = newRecord
	}

	return h.Handler.Handle(ctx, r)
}

func levelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InitLogger installs the process-wide default logger at the given
// level (cfg.LogLevel, resolved from the --log-level flag/LOG_LEVEL
// env var — see config.FromFlags).
func InitLogger(level string) {
	opts := GetSlogHandlerOptions(levelFromString(level))
	handler := slog.NewJSONHandler(os.Stdout, opts)
	slog.SetDefault(slog.New(&ComponentHandler{Handler: handler}))
}

// NewLogger creates a named logger carrying a "service" attr, at the
// given level, with its own independently-configured handler.
func NewLogger(serviceName, level string) *slog.Logger {
	opts := GetSlogHandlerOptions(levelFromString(level))
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(&ComponentHandler{Handler: handler}).With("service", serviceName)
}

// NewService connects to Postgres and builds a Store. It does not run
// migrations — that's the `migrate` subcommand's job, so `serve` and
// `worker` can be scaled independently without racing schema changes.
func NewService(ctx context.Context, cfg config.Config) (*Service, error) {
	InitLogger(cfg.LogLevel)

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	slog.Info("database connection pool established")

	return &Service{
		Pool:   pool,
		Store:  store.New(pool),
		Config: cfg,
	}, nil
}

// Close releases the Service's pooled resources.
func (s *Service) Close() {
	s.Pool.Close()
}
