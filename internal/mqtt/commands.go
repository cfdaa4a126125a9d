package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/taskpilot/internal/agent"
)

const (
	commandQueueSize   = 16
	commandRateLimit   = 30
	commandRateWindow  = time.Minute
	defaultCommandUser = "mqtt"
)

// Chatter runs one user turn.
type Chatter interface {
	Handle(ctx context.Context, userID, message string) (*agent.Result, error)
}

// Command is the payload accepted on <prefix>/ask. A payload that is
// not a JSON object is taken as the message text.
type Command struct {
	UserID  string `json:"user_id,omitempty"`
	Message string `json:"message"`
	// ReplyTo overrides the reply topic.
	ReplyTo string `json:"reply_to,omitempty"`
}

// Reply is published for every accepted command.
type Reply struct {
	UserID         string        `json:"user_id"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Response       string        `json:"response,omitempty"`
	Outcome        agent.Outcome `json:"outcome,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// commandRunner queues inbound commands and runs them one at a time.
type commandRunner struct {
	pub     *Publisher
	chat    Chatter
	queue   chan Command
	limiter *rateLimiter
	logger  *slog.Logger
}

func newCommandRunner(p *Publisher, chat Chatter) *commandRunner {
	return &commandRunner{
		pub:     p,
		chat:    chat,
		queue:   make(chan Command, commandQueueSize),
		limiter: newRateLimiter(commandRateLimit, commandRateWindow, p.logger),
		logger:  p.logger,
	}
}

func (r *commandRunner) subscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	topic := r.pub.topic("ask")
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
	}); err != nil {
		r.logger.Warn("mqtt subscribe failed", "topic", topic, "error", err)
		return
	}
	r.logger.Info("mqtt accepting commands", "topic", topic)
}

// receive is the autopaho OnPublishReceived hook.
func (r *commandRunner) receive(pr paho.PublishReceived) (bool, error) {
	if pr.Packet == nil || pr.Packet.Topic != r.pub.topic("ask") {
		return false, nil
	}
	r.accept(pr.Packet.Payload)
	return true, nil
}

// accept parses payload and queues it. Commands over the rate limit or
// beyond the queue are dropped.
func (r *commandRunner) accept(payload []byte) bool {
	cmd, ok := parseCommand(payload)
	if !ok {
		r.logger.Debug("mqtt command ignored", "payload_size", len(payload))
		return false
	}
	if !r.limiter.allow() {
		return false
	}
	select {
	case r.queue <- cmd:
		return true
	default:
		r.logger.Warn("mqtt command queue full, dropping", "user_id", cmd.UserID)
		return false
	}
}

func (r *commandRunner) run(ctx context.Context) {
	go r.limiter.start(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-r.queue:
			r.execute(ctx, cmd)
		}
	}
}

func (r *commandRunner) execute(ctx context.Context, cmd Command) {
	started := time.Now()
	res, err := r.chat.Handle(ctx, cmd.UserID, cmd.Message)
	if perr := r.pub.PublishTurn(ctx, cmd.UserID, res, time.Since(started), err); perr != nil {
		r.logger.Debug("mqtt turn event failed", "error", perr)
	}

	reply := Reply{UserID: cmd.UserID}
	if err != nil {
		reply.Error = err.Error()
	} else {
		reply.ConversationID = res.ConversationID
		reply.Response = res.Content
		reply.Outcome = res.Outcome
	}
	topic := cmd.ReplyTo
	if topic == "" {
		topic = r.pub.topic("reply")
	}
	if err := r.pub.publishJSON(ctx, topic, reply, 1, false); err != nil {
		r.logger.Warn("mqtt reply failed", "topic", topic, "error", err)
	}
}

func parseCommand(payload []byte) (Command, bool) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return Command{}, false
	}
	cmd := Command{Message: text}
	if strings.HasPrefix(text, "{") {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return Command{}, false
		}
	}
	cmd.Message = strings.TrimSpace(cmd.Message)
	if cmd.Message == "" {
		return Command{}, false
	}
	if cmd.UserID == "" {
		cmd.UserID = defaultCommandUser
	}
	return cmd, true
}

// rateLimiter drops inbound messages above limit per interval.
type rateLimiter struct {
	count    atomic.Int64
	dropped  atomic.Int64
	limit    int64
	interval time.Duration
	logger   *slog.Logger
}

func newRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *rateLimiter {
	return &rateLimiter{limit: limit, interval: interval, logger: logger}
}

// start resets the window every interval until ctx is cancelled.
func (r *rateLimiter) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reset()
		}
	}
}

func (r *rateLimiter) reset() {
	count := r.count.Swap(0)
	if dropped := r.dropped.Swap(0); dropped > 0 {
		r.logger.Warn("mqtt commands dropped by rate limit",
			"received", count,
			"dropped", dropped,
			"interval", r.interval.String(),
			"limit", r.limit,
		)
	}
}

func (r *rateLimiter) allow() bool {
	if r.count.Add(1) > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}
