package collector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
)

const (
	handleRPM uint32 = iota + 1
	handleFeed
	handleState
)

// OPCUAConfig describes the server session and the monitored nodes.
type OPCUAConfig struct {
	Endpoint        string
	Username        string
	Password        string
	SecurityMode    string
	SecurityPolicy  string
	ApplicationName string
	PublishInterval time.Duration
	MachineID       string
	RPMNode         string
	FeedNode        string
	StateNode       string
}

func (c *OPCUAConfig) applyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "CNC Telemetry Collector"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 500 * time.Millisecond
	}
}

func (c OPCUAConfig) validate() error {
	if c.Endpoint == "" {
		return errors.New("collector: opcua endpoint is required")
	}
	if !telemetry.ValidMachineID(c.MachineID) {
		return fmt.Errorf("collector: invalid machine id %q", c.MachineID)
	}
	if c.RPMNode == "" || c.FeedNode == "" || c.StateNode == "" {
		return errors.New("collector: opcua rpm, feed and state nodes are required")
	}
	return nil
}

// OPCUASource keeps the latest values pushed by an OPC UA subscription.
type OPCUASource struct {
	cfg    OPCUAConfig
	clock  Clock
	logger *log.Logger

	mu       sync.Mutex
	client   *opcua.Client
	sub      *opcua.Subscription
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	rpm      float64
	feed     float64
	state    telemetry.State
	received uint8
	seq      int64
}

// NewOPCUASource validates cfg and returns an unstarted source.
func NewOPCUASource(cfg OPCUAConfig, clock Clock, logger *log.Logger) (*OPCUASource, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &OPCUASource{cfg: cfg, clock: clock, logger: logger}, nil
}

// Start connects and subscribes to the configured nodes.
func (s *OPCUASource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("collector: opcua source already started")
	}
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	client, err := opcua.NewClient(s.cfg.Endpoint, s.clientOptions()...)
	if err != nil {
		cancel()
		return fmt.Errorf("collector: opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("collector: opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, 16)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{Interval: s.cfg.PublishInterval}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("collector: opcua subscribe: %w", err)
	}

	nodes := map[uint32]string{
		handleRPM:   s.cfg.RPMNode,
		handleFeed:  s.cfg.FeedNode,
		handleState: s.cfg.StateNode,
	}
	for _, handle := range []uint32{handleRPM, handleFeed, handleState} {
		if err := monitor(ctx, sub, nodes[handle], handle); err != nil {
			cancel()
			_ = sub.Cancel(ctx)
			_ = client.Close(ctx)
			return err
		}
	}

	s.mu.Lock()
	s.client = client
	s.sub = sub
	s.cancel = cancel
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.consume(runCtx, notifyCh)
	return nil
}

func monitor(ctx context.Context, sub *opcua.Subscription, node string, handle uint32) error {
	nodeID, err := ua.ParseNodeID(node)
	if err != nil {
		return fmt.Errorf("collector: parse node id %q: %w", node, err)
	}
	req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
	res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
	if err != nil {
		return fmt.Errorf("collector: monitor node %q: %w", node, err)
	}
	if len(res.Results) == 0 {
		return fmt.Errorf("collector: monitor node %q: empty result", node)
	}
	if res.Results[0].StatusCode != ua.StatusOK {
		return fmt.Errorf("collector: monitor node %q: %s", node, res.Results[0].StatusCode)
	}
	return nil
}

// Stop cancels the subscription and closes the session.
func (s *OPCUASource) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel, sub, client := s.cancel, s.sub, s.client
	s.started = false
	s.cancel, s.sub, s.client = nil, nil, nil
	s.mu.Unlock()

	cancel()
	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
		err = errors.Join(err, e)
	}
	if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
		err = errors.Join(err, e)
	}
	s.wg.Wait()
	return err
}

// Read returns the latest values once every node has reported.
func (s *OPCUASource) Read(ctx context.Context) (telemetry.Sample, error) {
	if err := ctx.Err(); err != nil {
		return telemetry.Sample{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.received != 1<<handleRPM|1<<handleFeed|1<<handleState {
		return telemetry.Sample{}, ErrNoSnapshot
	}
	s.seq++
	seq := s.seq
	return telemetry.Sample{
		MachineID: s.cfg.MachineID,
		Timestamp: s.clock.Now().UTC(),
		RPM:       s.rpm,
		FeedRate:  s.feed,
		State:     s.state,
		Sequence:  &seq,
	}, nil
}

func (s *OPCUASource) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				s.logger.Printf("collector: opcua notification error: err=%v", notif.Error)
				continue
			}
			s.apply(notif.Value)
		}
	}
}

func (s *OPCUASource) apply(value any) {
	data, ok := value.(*ua.DataChangeNotification)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range data.MonitoredItems {
		if item == nil || item.Value == nil {
			continue
		}
		switch item.ClientHandle {
		case handleRPM, handleFeed:
			v, ok := variantToFloat(item.Value.Value)
			if !ok {
				s.logger.Printf("collector: opcua skip value: handle=%d type=%T", item.ClientHandle, item.Value.Value)
				continue
			}
			if item.ClientHandle == handleRPM {
				s.rpm = v
			} else {
				s.feed = v
			}
		case handleState:
			state, ok := variantToState(item.Value.Value)
			if !ok {
				s.logger.Printf("collector: opcua skip state: value=%v", item.Value.Value)
				continue
			}
			s.state = state
		default:
			continue
		}
		s.received |= 1 << item.ClientHandle
	}
}

func (s *OPCUASource) clientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(s.cfg.SecurityMode)),
		opcua.SecurityPolicy(s.cfg.SecurityPolicy),
		opcua.ApplicationName(s.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if s.cfg.Username != "" {
		return append(opts, opcua.AuthUsername(s.cfg.Username, s.cfg.Password))
	}
	return append(opts, opcua.AuthAnonymous())
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

// variantToState maps controller execution labels or codes to a state.
// Numeric codes: 1 running, 2 stopped, anything else idle.
func variantToState(v *ua.Variant) (telemetry.State, bool) {
	if v == nil {
		return "", false
	}
	if label, ok := v.Value().(string); ok {
		return executionState(label)
	}
	code, ok := variantToFloat(v)
	if !ok {
		return "", false
	}
	switch code {
	case 1:
		return telemetry.StateRunning, true
	case 2:
		return telemetry.StateStopped, true
	default:
		return telemetry.StateIdle, true
	}
}

func executionState(label string) (telemetry.State, bool) {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "RUNNING", "EXECUTING", "ACTIVE":
		return telemetry.StateRunning, true
	case "STOPPED", "ALARM", "FEED_HOLD", "INTERRUPTED":
		return telemetry.StateStopped, true
	case "IDLE", "READY":
		return telemetry.StateIdle, true
	default:
		return "", false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "sign_and_encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}
