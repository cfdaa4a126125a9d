package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/taskpilot/internal/agent"
	"github.com/nugget/taskpilot/internal/buildinfo"
	"github.com/nugget/taskpilot/internal/config"
)

// ErrNotConnected is returned when publishing before Start has
// established a connection manager.
var ErrNotConnected = errors.New("mqtt publisher not started")

// Availability payloads.
const (
	Online  = "online"
	Offline = "offline"
)

// conn is the slice of *autopaho.ConnectionManager the publisher uses.
type conn interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// TurnEvent is published on <prefix>/turns after every turn.
type TurnEvent struct {
	InstanceID     string        `json:"instance_id"`
	ConversationID string        `json:"conversation_id"`
	UserID         string        `json:"user_id"`
	Outcome        agent.Outcome `json:"outcome,omitempty"`
	Iterations     int           `json:"iterations"`
	DurationMS     int64         `json:"duration_ms"`
	Error          string        `json:"error,omitempty"`
	At             time.Time     `json:"at"`
}

// Status is the retained document on <prefix>/status.
type Status struct {
	InstanceID    string    `json:"instance_id"`
	Version       string    `json:"version"`
	Model         string    `json:"model,omitempty"`
	UptimeSec     int64     `json:"uptime_sec"`
	Turns         int64     `json:"turns"`
	LastTurn      time.Time `json:"last_turn,omitzero"`
	TokensToday   int64     `json:"tokens_today"`
	RequestsToday int64     `json:"requests_today"`
}

// Publisher owns the broker connection.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	model      string
	tokens     *DailyTokens
	logger     *slog.Logger
	started    time.Time

	mu   sync.RWMutex
	conn conn

	turns    atomic.Int64
	lastTurn atomic.Int64 // unix nanos

	commands *commandRunner
}

// New creates a publisher. It does not connect until Start. tokens may
// be nil.
func New(cfg config.MQTTConfig, instanceID, model string, tokens *DailyTokens, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		model:      model,
		tokens:     tokens,
		logger:     logger.With("component", "mqtt"),
		started:    time.Now(),
	}
}

// AcceptCommands routes messages on the ask topic to chat. It must be
// called before Start and only has effect when the config enables
// commands.
func (p *Publisher) AcceptCommands(chat Chatter) {
	if !p.cfg.AcceptCommands || chat == nil {
		return
	}
	p.commands = newCommandRunner(p, chat)
}

// Start connects and refreshes the status document until ctx is
// cancelled, then publishes "offline" and disconnects.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	cm, err := autopaho.NewConnection(ctx, p.clientConfig(ctx, brokerURL))
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.setConn(cm)

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, retrying in background", "error", err)
	}
	cancel()

	if p.commands != nil {
		go p.commands.run(ctx)
	}
	p.runStatusLoop(ctx)

	stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	p.publishAvailability(stopCtx, Offline)
	if err := cm.Disconnect(stopCtx); err != nil {
		p.logger.Debug("mqtt disconnect failed", "error", err)
	}
	p.setConn(nil)
	return nil
}

// clientConfig builds the autopaho settings: the offline will, the
// connection-up hook that announces availability and subscribes to
// commands, and the inbound publish hook.
func (p *Publisher) clientConfig(ctx context.Context, brokerURL *url.URL) autopaho.ClientConfig {
	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.topic("availability"),
			Payload: []byte(Offline),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, Online)
			p.publishStatus(ctx)
			if p.commands != nil {
				p.commands.subscribe(ctx, cm)
			}
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.cfg.ClientID,
		},
	}
	if p.commands != nil {
		pahoCfg.OnPublishReceived = []func(paho.PublishReceived) (bool, error){
			p.commands.receive,
		}
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return pahoCfg
}

// PublishTurn records a finished turn and publishes its event. A nil
// res with a non-nil err publishes a failed-turn event.
func (p *Publisher) PublishTurn(ctx context.Context, userID string, res *agent.Result, took time.Duration, turnErr error) error {
	now := time.Now()
	p.turns.Add(1)
	p.lastTurn.Store(now.UnixNano())

	ev := TurnEvent{
		InstanceID: p.instanceID,
		UserID:     userID,
		DurationMS: took.Milliseconds(),
		At:         now.UTC(),
	}
	if res != nil {
		ev.ConversationID = res.ConversationID
		ev.Outcome = res.Outcome
		ev.Iterations = res.Iterations
	}
	if turnErr != nil {
		ev.Error = turnErr.Error()
	}
	return p.publishJSON(ctx, p.topic("turns"), ev, 0, false)
}

// Snapshot returns the current status document.
func (p *Publisher) Snapshot() Status {
	st := Status{
		InstanceID: p.instanceID,
		Version:    buildinfo.Version,
		Model:      p.model,
		UptimeSec:  int64(time.Since(p.started).Seconds()),
		Turns:      p.turns.Load(),
	}
	if ns := p.lastTurn.Load(); ns != 0 {
		st.LastTurn = time.Unix(0, ns).UTC()
	}
	if p.tokens != nil {
		in, out, reqs := p.tokens.Snapshot()
		st.TokensToday = in + out
		st.RequestsToday = reqs
	}
	return st
}

func (p *Publisher) topic(name string) string {
	return p.cfg.TopicPrefix + "/" + name
}

func (p *Publisher) setConn(c conn) {
	p.mu.Lock()
	p.conn = c
	p.mu.Unlock()
}

func (p *Publisher) publish(ctx context.Context, msg *paho.Publish) error {
	p.mu.RLock()
	c := p.conn
	p.mu.RUnlock()
	if c == nil {
		return ErrNotConnected
	}
	if _, err := c.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Topic, err)
	}
	return nil
}

func (p *Publisher) publishJSON(ctx context.Context, topic string, v any, qos byte, retain bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return p.publish(ctx, &paho.Publish{Topic: topic, Payload: payload, QoS: qos, Retain: retain})
}

func (p *Publisher) publishAvailability(ctx context.Context, status string) {
	err := p.publish(ctx, &paho.Publish{
		Topic:   p.topic("availability"),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	})
	if err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	p.logger.Info("mqtt availability published", "status", status)
}

func (p *Publisher) publishStatus(ctx context.Context) {
	if err := p.publishJSON(ctx, p.topic("status"), p.Snapshot(), 0, true); err != nil {
		p.logger.Debug("mqtt status publish failed", "error", err)
	}
}

func (p *Publisher) runStatusLoop(ctx context.Context) {
	interval := time.Duration(p.cfg.StatusIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStatus(ctx)
		}
	}
}
