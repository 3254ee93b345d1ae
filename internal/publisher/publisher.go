// Package publisher joins the network once and then posts a reading to the
// cloud endpoint on a fixed interval until the context ends or a post fails.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"cloudpico-publisher/internal/thingspeak"
	"cloudpico-publisher/internal/types"
	"cloudpico-publisher/internal/wifi"
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StatePublishing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StatePublishing:
		return "publishing"
	default:
		return "idle"
	}
}

// Sampler is the reading source. sensor.Constant and *sensor.BME280 satisfy it.
type Sampler interface {
	Sample(ctx context.Context) (float64, error)
}

// Poster sends one payload. *thingspeak.Client satisfies it.
type Poster interface {
	Post(ctx context.Context, p thingspeak.Payload) (thingspeak.Response, error)
	URL() string
}

// ClientFactory builds the poster once the connection is up. The pool is the
// only way the poster may open sockets.
type ClientFactory func(pool *wifi.SocketPool) Poster

// Sink receives every accepted publish. Sink errors are logged, not returned.
type Sink interface {
	Record(ctx context.Context, p types.Publish) error
}

type Options struct {
	Connector   wifi.Connector
	Credentials wifi.Credentials
	// ConnectTimeout bounds the connect phase only. Zero means no deadline.
	ConnectTimeout time.Duration
	NewClient      ClientFactory
	Sampler        Sampler
	APIKey         string
	Interval       time.Duration
	Sinks          []Sink
	Logger         *slog.Logger
}

type Publisher struct {
	opts   Options
	logger *slog.Logger
	state  atomic.Int32
	seq    int
	now    func() time.Time
}

var errMissingOption = errors.New("publisher: missing option")

func New(opts Options) (*Publisher, error) {
	switch {
	case opts.Connector == nil:
		return nil, fmt.Errorf("%w: connector", errMissingOption)
	case opts.NewClient == nil:
		return nil, fmt.Errorf("%w: client factory", errMissingOption)
	case opts.Sampler == nil:
		return nil, fmt.Errorf("%w: sampler", errMissingOption)
	case opts.Interval <= 0:
		return nil, fmt.Errorf("%w: positive interval", errMissingOption)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{opts: opts, logger: logger, now: time.Now}, nil
}

func (p *Publisher) State() State {
	return State(p.state.Load())
}

func (p *Publisher) setState(s State) {
	p.state.Store(int32(s))
}

// Run connects and then publishes until ctx is done or a publish fails.
// A connect failure returns before any reading is sampled.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.setState(StateIdle)

	conn, err := p.connect(ctx)
	if err != nil {
		return err
	}

	client := p.opts.NewClient(conn.Pool)
	p.setState(StatePublishing)

	for {
		if err := p.publishOnce(ctx, client); err != nil {
			return err
		}

		t := time.NewTimer(p.opts.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (p *Publisher) connect(ctx context.Context) (*wifi.Connection, error) {
	p.setState(StateConnecting)
	p.logger.Info("connecting", "ssid", p.opts.Credentials.SSID)

	connectCtx := ctx
	if p.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, p.opts.ConnectTimeout)
		defer cancel()
	}

	conn, err := p.opts.Connector.Connect(connectCtx, p.opts.Credentials)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if conn == nil || !wifi.ValidIPv4(conn.IPv4) || conn.Pool == nil {
		return nil, fmt.Errorf("connect: %w", wifi.ErrNoIPv4)
	}

	p.logger.Info("connected", "interface", conn.Interface, "ip", conn.IPv4.String())
	return conn, nil
}

func (p *Publisher) publishOnce(ctx context.Context, client Poster) error {
	value, err := p.opts.Sampler.Sample(ctx)
	if err != nil {
		return fmt.Errorf("sample: %w", err)
	}

	p.seq++
	payload := thingspeak.Payload{APIKey: p.opts.APIKey, Field1: value}
	p.logger.Info("posting", "seq", p.seq, "url", client.URL(), "payload", payload)

	start := p.now()
	resp, err := client.Post(ctx, payload)
	if err != nil {
		return fmt.Errorf("post reading %d: %w", p.seq, err)
	}
	elapsed := p.now().Sub(start)

	p.logger.Info("response",
		"seq", p.seq,
		"status", resp.StatusCode,
		"body", string(resp.Raw),
		"duration_ms", elapsed.Milliseconds(),
	)

	rec := types.Publish{
		Sequence:  p.seq,
		Timestamp: start.UTC(),
		Value:     value,
		Status:    resp.StatusCode,
		Duration:  elapsed,
	}
	if id, ok := resp.EntryID(); ok {
		rec.EntryID = id
	}

	for _, s := range p.opts.Sinks {
		if err := s.Record(ctx, rec); err != nil {
			p.logger.Warn("record publish", "seq", p.seq, "error", err)
		}
	}
	return nil
}
