// Package dispatch sends authenticated commands and performs the single re-authentication retry on HTTP 401.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"infractl/client/internal/clienterr"
	"infractl/client/internal/command"
	"infractl/client/internal/policy/engine"
	"infractl/client/internal/transport"
)

const instrumentationName = "infractl/client/internal/dispatch"

// Sender is the minimal transport needed by the dispatcher. Nil creds sends an unauthenticated command.
type Sender interface {
	SendCommand(ctx context.Context, cmd command.Command, creds *transport.Credentials) (json.RawMessage, error)
}

// Session is the minimal session manager surface needed by the dispatcher.
type Session interface {
	Credentials() (transport.Credentials, error)
	Roles() []string
	SyncFromStore(ctx context.Context) (bool, error)
	RefreshToken(ctx context.Context) error
	OnValidationExpired()
}

// Config holds the dispatcher's collaborators. Sender and Session are required.
type Config struct {
	Sender  Sender
	Session Session
	// Guard, when set, must allow a command for the session's roles before it is sent.
	Guard          engine.Guard
	Logger         *slog.Logger
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Dispatcher attaches session credentials to commands. No command is retried more than once per call.
type Dispatcher struct {
	sender  Sender
	session Session
	guard   engine.Guard
	logger  *slog.Logger
	tracer  trace.Tracer

	sent    metric.Int64Counter
	retries metric.Int64Counter
	unauth  metric.Int64Counter
}

// New returns a Dispatcher. Meter and tracer providers default to the otel globals.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Sender == nil || cfg.Session == nil {
		return nil, errors.New("dispatch: sender and session are required")
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sender:  cfg.Sender,
		session: cfg.Session,
		guard:   cfg.Guard,
		logger:  logger,
		tracer:  tp.Tracer(instrumentationName),
	}
	meter := mp.Meter(instrumentationName)
	var err error
	if d.sent, err = meter.Int64Counter("infractl.dispatch.commands",
		metric.WithDescription("Commands sent, including retries.")); err != nil {
		return nil, err
	}
	if d.retries, err = meter.Int64Counter("infractl.dispatch.retries",
		metric.WithDescription("Commands resent after an unauthorized response.")); err != nil {
		return nil, err
	}
	if d.unauth, err = meter.Int64Counter("infractl.dispatch.unauthenticated",
		metric.WithDescription("Commands that ended unauthenticated after re-authentication.")); err != nil {
		return nil, err
	}
	return d, nil
}

// RequestCommandResponse sends cmd with the session's credentials and returns the response data.
// On HTTP 401 it re-authenticates and resends once; a second 401 expires the session and returns
// clienterr.ErrUnauthenticated.
func (d *Dispatcher) RequestCommandResponse(ctx context.Context, cmd command.Command) (json.RawMessage, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch "+cmd.Type,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("infractl.command", cmd.Type)))
	defer span.End()

	data, err := d.request(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return data, err
}

// SendCommand is RequestCommandResponse for commands whose only outcome is success or failure.
func (d *Dispatcher) SendCommand(ctx context.Context, cmd command.Command) error {
	_, err := d.RequestCommandResponse(ctx, cmd)
	return err
}

// Probe sends cmd without credentials, policy check or retry. Used for the system status probe before login.
func (d *Dispatcher) Probe(ctx context.Context, cmd command.Command) (json.RawMessage, error) {
	ctx, span := d.tracer.Start(ctx, "probe "+cmd.Type,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("infractl.command", cmd.Type)))
	defer span.End()

	d.sent.Add(ctx, 1, metric.WithAttributes(attribute.String("command", cmd.Type)))
	data, err := d.sender.SendCommand(ctx, cmd, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return data, err
}

func (d *Dispatcher) request(ctx context.Context, cmd command.Command) (json.RawMessage, error) {
	creds, err := d.credentials(ctx)
	if err != nil {
		return nil, err
	}
	if err := d.authorize(ctx, cmd.Type); err != nil {
		return nil, err
	}
	attrs := metric.WithAttributes(attribute.String("command", cmd.Type))
	d.sent.Add(ctx, 1, attrs)
	data, err := d.sender.SendCommand(ctx, cmd, &creds)
	if !errors.Is(err, clienterr.ErrUnauthenticated) {
		return data, err
	}
	return d.resendCommand(ctx, cmd)
}

// resendCommand re-authenticates from the store or by refreshing, then resends cmd exactly once.
func (d *Dispatcher) resendCommand(ctx context.Context, cmd command.Command) (json.RawMessage, error) {
	attrs := metric.WithAttributes(attribute.String("command", cmd.Type))
	d.retries.Add(ctx, 1, attrs)

	adopted, err := d.session.SyncFromStore(ctx)
	if err != nil {
		d.logger.Warn("dispatch: store sync failed", "command", cmd.Type, "error", err)
	}
	if !adopted {
		if err := d.session.RefreshToken(ctx); err != nil {
			if !clienterr.Canceled(err) {
				d.session.OnValidationExpired()
			}
			d.unauth.Add(ctx, 1, attrs)
			return nil, fmt.Errorf("re-authenticate: %w", err)
		}
	}

	creds, err := d.session.Credentials()
	if err != nil {
		return nil, err
	}
	d.sent.Add(ctx, 1, attrs)
	data, err := d.sender.SendCommand(ctx, cmd, &creds)
	if errors.Is(err, clienterr.ErrUnauthenticated) {
		d.logger.Warn("dispatch: command unauthorized after re-authentication", "command", cmd.Type)
		d.session.OnValidationExpired()
		d.unauth.Add(ctx, 1, attrs)
		return nil, clienterr.ErrUnauthenticated
	}
	return data, err
}

// credentials returns the session's credentials, adopting a stored set first when the session holds none.
func (d *Dispatcher) credentials(ctx context.Context) (transport.Credentials, error) {
	creds, err := d.session.Credentials()
	if err == nil {
		return creds, nil
	}
	if adopted, syncErr := d.session.SyncFromStore(ctx); syncErr != nil || !adopted {
		return transport.Credentials{}, err
	}
	return d.session.Credentials()
}

func (d *Dispatcher) authorize(ctx context.Context, name string) error {
	if d.guard == nil {
		return nil
	}
	allowed, err := d.guard.Allow(ctx, name, d.session.Roles())
	if err != nil {
		return fmt.Errorf("authorize %s: %w", name, err)
	}
	if !allowed {
		return fmt.Errorf("%w: %s", clienterr.ErrForbidden, name)
	}
	return nil
}
