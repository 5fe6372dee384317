package autoreply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adaofeliz/whatsapp-agent-web/internal/jid"
	"github.com/adaofeliz/whatsapp-agent-web/internal/storage"
)

const (
	defaultQueueLimit = 50
	maxQueueLimit     = 200
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

type QueueStore interface {
	ListQueueItems(status string, limit int) ([]storage.QueueItem, error)
	ExpirePending(now time.Time) (int64, error)
	ClaimQueueItem(id int64, status string, now time.Time) (storage.QueueItem, error)
	ReleaseQueueItem(id int64, resolvedAt time.Time) error
	SetQueueResponse(id int64, text string) error
	AppendLog(e storage.LogEntry) (int64, error)
	GetQueueItem(id int64) (storage.QueueItem, error)
	ListLog(chatJID string, limit int) ([]storage.LogEntry, error)
}

// ResolveResult describes a completed operator action.
type ResolveResult struct {
	Item      storage.QueueItem `json:"item"`
	MessageID string            `json:"messageId,omitempty"`
}

// Queue exposes operator actions on the approval queue.
type Queue struct {
	store  QueueStore
	send   Sender
	now    func() time.Time
	logger *slog.Logger
}

func NewQueue(store QueueStore, send Sender) *Queue {
	return &Queue{store: store, send: send, now: time.Now, logger: slog.Default()}
}

// List returns items with the given status, oldest first. Pending items past
// their expiry are marked expired before reading.
func (q *Queue) List(status string, limit int) ([]storage.QueueItem, error) {
	if status == "" {
		status = storage.StatusPending
	}
	if !storage.ValidStatus(status) {
		return nil, fieldError("status", "must be one of pending, approved, rejected, expired")
	}
	if limit <= 0 {
		limit = defaultQueueLimit
	}
	limit = min(limit, maxQueueLimit)

	if err := q.expire(); err != nil {
		return nil, err
	}
	return q.store.ListQueueItems(status, limit)
}

// Get returns one item in any status. A pending item past its expiry is
// reported as expired.
func (q *Queue) Get(id int64) (storage.QueueItem, error) {
	if err := q.expire(); err != nil {
		return storage.QueueItem{}, err
	}
	return q.store.GetQueueItem(id)
}

// History returns delivered replies, newest first. An empty chatJID lists
// every chat.
func (q *Queue) History(chatJID string, limit int) ([]storage.LogEntry, error) {
	if chatJID != "" {
		if _, err := jid.Parse(chatJID); err != nil {
			return nil, fieldError("chatJid", err.Error())
		}
	}
	if limit <= 0 {
		limit = defaultQueueLimit
	}
	entries, err := q.store.ListLog(chatJID, min(limit, maxQueueLimit))
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []storage.LogEntry{}
	}
	return entries, nil
}

// Resolve approves or rejects a pending item. Items that are missing or no
// longer pending yield storage.ErrNotFound.
//
// Approval claims the item before sending. If the send fails the claim is
// released so the operator can retry.
func (q *Queue) Resolve(ctx context.Context, id int64, action Action, editedText *string) (ResolveResult, error) {
	fields := map[string]string{}
	if id <= 0 {
		fields["id"] = "must be a positive integer"
	}
	if action != ActionApprove && action != ActionReject {
		fields["action"] = `must be "approve" or "reject"`
	}
	if len(fields) > 0 {
		return ResolveResult{}, &ValidationError{Fields: fields}
	}

	if err := q.expire(); err != nil {
		return ResolveResult{}, err
	}

	now := q.now()
	if action == ActionReject {
		item, err := q.store.ClaimQueueItem(id, storage.StatusRejected, now)
		if err != nil {
			return ResolveResult{}, err
		}
		QueueResolutions.WithLabelValues(string(ActionReject)).Inc()
		q.logger.Info("proposal rejected", "queue_id", id, "chat_jid", item.ChatJID)
		return ResolveResult{Item: item}, nil
	}

	item, err := q.store.ClaimQueueItem(id, storage.StatusApproved, now)
	if err != nil {
		return ResolveResult{}, err
	}

	text := item.ProposedResponse
	if editedText != nil && strings.TrimSpace(*editedText) != "" {
		text = *editedText
	}

	res, sendErr := q.send.Send(ctx, item.ChatJID, text)
	if res.MessageID == "" {
		if relErr := q.store.ReleaseQueueItem(id, *item.ResolvedAt); relErr != nil {
			q.logger.Error("releasing claimed queue item failed", "queue_id", id, "error", relErr)
		}
		if sendErr == nil {
			sendErr = errors.New("no message id returned")
		}
		QueueResolutions.WithLabelValues("send_failed").Inc()
		return ResolveResult{}, fmt.Errorf("sending approved reply %d: %w", id, sendErr)
	}

	if err := q.store.SetQueueResponse(id, text); err != nil {
		return ResolveResult{}, fmt.Errorf("saving approved text for %d: %w", id, err)
	}
	item.ProposedResponse = text

	if _, err := q.store.AppendLog(storage.LogEntry{
		ChatJID:           item.ChatJID,
		TriggerMessageID:  item.TriggerMessageID,
		ResponseMessageID: res.MessageID,
		StyleProfileID:    item.StyleProfileID,
		Approved:          true,
		CreatedAt:         now,
	}); err != nil {
		return ResolveResult{}, fmt.Errorf("logging approved reply %d: %w", id, err)
	}

	QueueResolutions.WithLabelValues(string(ActionApprove)).Inc()
	q.logger.Info("proposal approved", "queue_id", id, "chat_jid", item.ChatJID, "msg_id", res.MessageID)
	return ResolveResult{Item: item, MessageID: res.MessageID}, sendErr
}

func (q *Queue) expire() error {
	n, err := q.store.ExpirePending(q.now())
	if err != nil {
		return fmt.Errorf("expiring queue: %w", err)
	}
	if n > 0 {
		q.logger.Info("expired stale proposals", "count", n)
	}
	return nil
}
