// Package autoreply decides, for each inbound WhatsApp message, whether to
// answer it autonomously, queue a proposal for operator approval, or skip it.
package autoreply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adaofeliz/whatsapp-agent-web/internal/generator"
	"github.com/adaofeliz/whatsapp-agent-web/internal/jid"
	"github.com/adaofeliz/whatsapp-agent-web/internal/sender"
	"github.com/adaofeliz/whatsapp-agent-web/internal/storage"
	"github.com/adaofeliz/whatsapp-agent-web/internal/wacli"
)

// Fixed policy thresholds.
const (
	MaxPendingPerChat = 3
	TrustThreshold    = 3
	MinConfidence     = 0.7
	QueueTTL          = 24 * time.Hour
)

type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeQueued  Outcome = "queued"
	OutcomeSkipped Outcome = "skipped"
)

const (
	ReasonGlobalDisabled  = "Global auto-response disabled"
	ReasonGroupChat       = "Group chats not supported"
	ReasonNotEnabled      = "Auto-response not enabled for this chat"
	ReasonDailyLimit      = "Daily response limit reached"
	ReasonTooManyPending  = "Too many pending approvals"
	ReasonRequireApproval = "Requires approval (first 3 messages or approval required)"
	ReasonSent            = "Auto-response sent successfully"
)

// Decision is the single outcome of processing one inbound message.
type Decision struct {
	ChatJID   string  `json:"chatJid"`
	MessageID string  `json:"triggerMessageId"`
	Outcome   Outcome `json:"action"`
	Reason    string  `json:"reason"`
	QueueID   int64   `json:"queueId,omitempty"`
	SentID    string  `json:"messageId,omitempty"`
}

// Store is the persisted state the engine reads and writes.
type Store interface {
	GetSetting(key string) (string, error)
	GetChatConfig(chatJID string) (storage.ChatConfig, error)
	ResetDailyCount(chatJID string, resetAt time.Time) error
	IncrementDailyCount(chatJID string) error
	ExpirePending(now time.Time) (int64, error)
	CountPending(chatJID string) (int, error)
	CountApproved(chatJID string) (int, error)
	InsertQueueItem(q storage.QueueItem) (int64, error)
	AppendLog(e storage.LogEntry) (int64, error)
}

// MessageSource reads conversation history from the wacli store.
type MessageSource interface {
	RecentMessages(ctx context.Context, chatJID string, limit int) ([]wacli.Message, error)
	ContactDisplayName(ctx context.Context, chatJID string) (string, error)
}

type Generator interface {
	AnalyzeStyle(ctx context.Context, contactName string, msgs []generator.Message) (generator.StyleProfile, error)
	GenerateReply(ctx context.Context, contactName string, profile generator.StyleProfile, msgs []generator.Message, convContext string) (generator.Reply, error)
}

type Sender interface {
	Send(ctx context.Context, to, text string) (sender.Result, error)
}

// Engine applies the auto-reply policy gates in a fixed order.
type Engine struct {
	store  Store
	source MessageSource
	gen    Generator
	send   Sender
	now    func() time.Time
	logger *slog.Logger
}

func NewEngine(store Store, source MessageSource, gen Generator, send Sender) *Engine {
	return &Engine{
		store:  store,
		source: source,
		gen:    gen,
		send:   send,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// Rollover resets the daily counter when its reset stamp predates the start
// of now's local day. It reports whether a reset happened.
func Rollover(cfg storage.ChatConfig, now time.Time) (storage.ChatConfig, bool) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if cfg.DailyCountResetAt != nil && !cfg.DailyCountResetAt.Before(dayStart) {
		return cfg, false
	}
	cfg.DailyResponseCount = 0
	cfg.DailyCountResetAt = &dayStart
	return cfg, true
}

// Process runs one inbound message through the policy. Generation and send
// failures are returned as errors; policy blocks are skipped decisions.
func (e *Engine) Process(ctx context.Context, msg wacli.Message) (Decision, error) {
	d := Decision{ChatJID: msg.ChatJID, MessageID: msg.MsgID}
	skip := func(reason string) (Decision, error) {
		d.Outcome, d.Reason = OutcomeSkipped, reason
		Decisions.WithLabelValues(string(OutcomeSkipped)).Inc()
		return d, nil
	}

	enabled, err := killSwitch(e.store)
	if err != nil {
		return d, fmt.Errorf("reading kill switch: %w", err)
	}
	if !enabled {
		return skip(ReasonGlobalDisabled)
	}

	if jid.IsGroup(msg.ChatJID) {
		return skip(ReasonGroupChat)
	}

	cfg, err := e.store.GetChatConfig(msg.ChatJID)
	if errors.Is(err, storage.ErrNotFound) {
		return skip(ReasonNotEnabled)
	}
	if err != nil {
		return d, fmt.Errorf("loading config for %s: %w", msg.ChatJID, err)
	}
	if !cfg.Enabled {
		return skip(ReasonNotEnabled)
	}

	now := e.now()
	cfg, reset := Rollover(cfg, now)
	if reset {
		if err := e.store.ResetDailyCount(cfg.ChatJID, *cfg.DailyCountResetAt); err != nil {
			return d, fmt.Errorf("resetting daily count for %s: %w", cfg.ChatJID, err)
		}
	}
	if cfg.MaxDailyResponses != nil && cfg.DailyResponseCount >= *cfg.MaxDailyResponses {
		return skip(ReasonDailyLimit)
	}

	if _, err := e.store.ExpirePending(now); err != nil {
		return d, fmt.Errorf("expiring queue: %w", err)
	}
	pending, err := e.store.CountPending(cfg.ChatJID)
	if err != nil {
		return d, fmt.Errorf("counting pending for %s: %w", cfg.ChatJID, err)
	}
	if pending >= MaxPendingPerChat {
		return skip(ReasonTooManyPending)
	}

	reply, err := e.generate(ctx, cfg, msg)
	if err != nil {
		return d, err
	}
	if reply.Confidence <= MinConfidence {
		return skip(fmt.Sprintf("AI confidence too low (%g)", reply.Confidence))
	}

	approved, err := e.store.CountApproved(cfg.ChatJID)
	if err != nil {
		return d, fmt.Errorf("counting approved replies for %s: %w", cfg.ChatJID, err)
	}
	if cfg.RequireApproval || approved < TrustThreshold {
		id, err := e.store.InsertQueueItem(storage.QueueItem{
			ChatJID:          cfg.ChatJID,
			TriggerMessageID: msg.MsgID,
			ProposedResponse: reply.Message,
			StyleProfileID:   cfg.StyleProfileID,
			Status:           storage.StatusPending,
			CreatedAt:        now,
			ExpiresAt:        now.Add(QueueTTL),
		})
		if err != nil {
			return d, fmt.Errorf("queueing proposal for %s: %w", cfg.ChatJID, err)
		}
		d.Outcome, d.Reason, d.QueueID = OutcomeQueued, ReasonRequireApproval, id
		Decisions.WithLabelValues(string(OutcomeQueued)).Inc()
		return d, nil
	}

	res, sendErr := e.send.Send(ctx, cfg.ChatJID, reply.Message)
	if res.MessageID == "" {
		if sendErr == nil {
			sendErr = errors.New("no message id returned")
		}
		return d, fmt.Errorf("sending auto-reply to %s: %w", cfg.ChatJID, sendErr)
	}
	// Delivered. A resume failure still surfaces through sendErr below.
	if err := e.store.IncrementDailyCount(cfg.ChatJID); err != nil {
		return d, fmt.Errorf("incrementing daily count for %s: %w", cfg.ChatJID, err)
	}
	if _, err := e.store.AppendLog(storage.LogEntry{
		ChatJID:           cfg.ChatJID,
		TriggerMessageID:  msg.MsgID,
		ResponseMessageID: res.MessageID,
		StyleProfileID:    cfg.StyleProfileID,
		PromptTokens:      reply.Usage.PromptTokens,
		CompletionTokens:  reply.Usage.CompletionTokens,
		CostUSD:           reply.Usage.CostUSD,
		Approved:          false,
		CreatedAt:         now,
	}); err != nil {
		return d, fmt.Errorf("logging auto-reply to %s: %w", cfg.ChatJID, err)
	}

	d.Outcome, d.Reason, d.SentID = OutcomeSent, ReasonSent, res.MessageID
	Decisions.WithLabelValues(string(OutcomeSent)).Inc()
	return d, sendErr
}

func (e *Engine) generate(ctx context.Context, cfg storage.ChatConfig, msg wacli.Message) (generator.Reply, error) {
	history, err := e.source.RecentMessages(ctx, cfg.ChatJID, cfg.ContextWindowMessages)
	if err != nil {
		return generator.Reply{}, fmt.Errorf("reading history for %s: %w", cfg.ChatJID, err)
	}
	name, err := e.source.ContactDisplayName(ctx, cfg.ChatJID)
	if err != nil {
		return generator.Reply{}, fmt.Errorf("resolving contact for %s: %w", cfg.ChatJID, err)
	}

	msgs := make([]generator.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, generator.Message{FromMe: m.FromMe, Body: m.Text, Timestamp: m.Timestamp})
	}

	profile, err := e.gen.AnalyzeStyle(ctx, name, msgs)
	if err != nil {
		return generator.Reply{}, err
	}
	return e.gen.GenerateReply(ctx, name, profile, msgs, fmt.Sprintf(`Incoming message: "%s"`, msg.Text))
}
