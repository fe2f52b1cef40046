package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"infractl/client/internal/config"
	"infractl/client/internal/db"
	"infractl/client/internal/dispatch"
	"infractl/client/internal/policy/engine"
	"infractl/client/internal/resource"
	"infractl/client/internal/session"
	"infractl/client/internal/task"
	"infractl/client/internal/telemetry"
	"infractl/client/internal/telemetry/loki"
	telemetryotel "infractl/client/internal/telemetry/otel"
	"infractl/client/internal/telemetry/producer"
	"infractl/client/internal/tokenstore"
	"infractl/client/internal/transport"
)

const shutdownTimeout = 5 * time.Second

// app holds the wired client for one invocation.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	session    *session.Manager
	dispatcher *dispatch.Dispatcher
	poller     *task.Poller
	resources  *resource.Client
	out        io.Writer

	closers []func()
}

// newApp wires every component from cfg. Call close when done.
func newApp(ctx context.Context, cfg *config.Config, out, errOut io.Writer) (*app, error) {
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	a := &app{cfg: cfg, logger: logger, out: out}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.OTELServiceName,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	a.closers = append(a.closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			logger.Warn("otel shutdown failed", "error", err)
		}
	})

	sinks := []telemetry.EventEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if kp := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.AuthEventsTopic); kp != nil {
		var p producer.Producer = kp
		sinks = append(sinks, p)
		a.closers = append(a.closers, func() {
			if err := p.Close(); err != nil {
				logger.Warn("kafka producer close failed", "error", err)
			}
		})
	}
	if le := loki.NewEmitter(cfg.LokiURL, nil); le != nil {
		sinks = append(sinks, le)
	}
	notifier := telemetry.NewNotifier(cfg.OTELServiceName, logger, sinks...)
	a.closers = append(a.closers, notifier.Flush)

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	tc, err := transport.New(transport.Config{BaseURL: cfg.BaseURL, Timeout: cfg.HTTPTimeout(), Logger: logger})
	if err != nil {
		return nil, err
	}

	mgr, err := session.New(session.Config{
		Auth:             tc,
		Store:            store,
		Notifier:         notifier,
		SessionKey:       cfg.SessionKey,
		DeviceID:         cfg.DeviceID,
		HeartbeatLead:    cfg.HeartbeatLead(),
		Tolerance:        cfg.ValidationTolerance(),
		VerifySignatures: cfg.VerifyTokenSignatures,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	a.session = mgr
	a.closers = append(a.closers, mgr.Release)

	var guard engine.Guard
	if cfg.CommandPolicyEnabled {
		var g *engine.OPAGuard
		if cfg.CommandPolicyFile != "" {
			g, err = engine.NewOPAGuardFromFile(ctx, cfg.CommandPolicyFile)
		} else {
			g, err = engine.NewOPAGuard(ctx, "")
		}
		if err != nil {
			return nil, err
		}
		guard = g
	}

	a.dispatcher, err = dispatch.New(dispatch.Config{Sender: tc, Session: mgr, Guard: guard, Logger: logger})
	if err != nil {
		return nil, err
	}
	a.poller = task.NewPoller(a.dispatcher, logger)
	a.resources = resource.NewClient(a.dispatcher, a.poller, cfg.TaskTimeout(), cfg.TaskInterval())
	ok = true
	return a, nil
}

func (a *app) openStore(ctx context.Context) (tokenstore.Store, error) {
	switch a.cfg.TokenStore {
	case config.StorePostgres:
		sqlDB, err := db.Open(a.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("token store: %w", err)
		}
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
		return tokenstore.NewPostgresStore(sqlDB), nil
	case config.StoreSQLite:
		s, err := tokenstore.NewSQLiteStore(a.cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("token store: %w", err)
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		return s, nil
	default:
		a.logger.Debug("using in-memory token store; tokens will not outlive this process")
		return tokenstore.NewMemoryStore(), nil
	}
}

// close releases components in reverse wiring order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// resume adopts stored tokens. A missing set is not an error; commands fail unauthenticated later.
func (a *app) resume(ctx context.Context) error {
	if _, err := a.session.SyncFromStore(ctx); err != nil {
		return err
	}
	return nil
}

var errUsage = errors.New("usage")
