package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	alarms "github.com/Viniciusjohn/cnc-telemetry/internal/alarms/domain"
	"github.com/Viniciusjohn/cnc-telemetry/internal/observability/metrics"
)

// Delivery pairs a channel spec with the message rendered for it.
type Delivery struct {
	Spec    alarms.ChannelSpec
	Message Message
}

// Outcome lists the channel labels that accepted or failed a dispatch.
type Outcome struct {
	OK     []string
	Failed []string
}

// ChannelFactory builds a channel for a spec.
type ChannelFactory func(spec alarms.ChannelSpec) (Channel, error)

// Dispatcher fans a firing out to its channels. Channels are built once per
// (type, url) so their breakers survive across cycles.
type Dispatcher struct {
	mu         sync.Mutex
	channels   map[string]Channel
	client     *http.Client
	signingKey []byte
	factory    ChannelFactory
	logger     *log.Logger
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithClient sets the HTTP client shared by built channels.
func WithClient(client *http.Client) DispatcherOption {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithWebhookSigningKey signs generic webhook deliveries.
func WithWebhookSigningKey(key []byte) DispatcherOption {
	return func(d *Dispatcher) {
		d.signingKey = key
	}
}

// WithChannelFactory overrides how channels are built.
func WithChannelFactory(factory ChannelFactory) DispatcherOption {
	return func(d *Dispatcher) {
		if factory != nil {
			d.factory = factory
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		channels: make(map[string]Channel),
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		logger:   log.Default(),
	}
	d.factory = d.buildChannel
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends every delivery concurrently. A failing channel does not
// affect the others.
func (d *Dispatcher) Dispatch(ctx context.Context, deliveries []Delivery) Outcome {
	errs := make([]error, len(deliveries))
	var g errgroup.Group
	for i, delivery := range deliveries {
		g.Go(func() error {
			errs[i] = d.send(ctx, delivery)
			return nil
		})
	}
	_ = g.Wait()

	var outcome Outcome
	for i, delivery := range deliveries {
		label := string(delivery.Spec.Type)
		if errs[i] != nil {
			d.logger.Printf("alarm dispatch: send failed: channel=%s rule=%s machine=%s err=%v",
				label, delivery.Message.Rule, delivery.Message.MachineID, errs[i])
			metrics.IncAlertDispatch(label, metrics.ResultError)
			outcome.Failed = append(outcome.Failed, label)
			continue
		}
		metrics.IncAlertDispatch(label, metrics.ResultSuccess)
		outcome.OK = append(outcome.OK, label)
	}
	return outcome
}

func (d *Dispatcher) send(ctx context.Context, delivery Delivery) error {
	ch, err := d.channel(delivery.Spec)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrChannelDispatch, err)
	}
	return ch.Send(ctx, delivery.Message)
}

func (d *Dispatcher) channel(spec alarms.ChannelSpec) (Channel, error) {
	key := string(spec.Type) + "|" + spec.URL
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.channels[key]; ok {
		return ch, nil
	}
	ch, err := d.factory(spec)
	if err != nil {
		return nil, err
	}
	ch = NewBreakerChannel(channelName(spec), ch, d.logger)
	d.channels[key] = ch
	return ch, nil
}

// channelName labels a channel in logs and errors without its URL, which
// for incoming webhooks is a credential.
func channelName(spec alarms.ChannelSpec) string {
	sum := sha256.Sum256([]byte(spec.URL))
	return string(spec.Type) + "-" + hex.EncodeToString(sum[:4])
}

func (d *Dispatcher) buildChannel(spec alarms.ChannelSpec) (Channel, error) {
	switch spec.Type {
	case alarms.ChannelSlack:
		return NewSlackChannel(spec.URL, d.client)
	case alarms.ChannelWebhook:
		return NewWebhookChannel(spec.URL, WithHTTPClient(d.client), WithSigningKey(d.signingKey))
	default:
		return nil, fmt.Errorf("unknown channel type %q", spec.Type)
	}
}
