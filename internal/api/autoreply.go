package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/adaofeliz/whatsapp-agent-web/internal/autoreply"
	"github.com/adaofeliz/whatsapp-agent-web/internal/sender"
	"github.com/adaofeliz/whatsapp-agent-web/internal/storage"
	"github.com/adaofeliz/whatsapp-agent-web/internal/wacli"
)

func handlePoll(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		noStore(w)
		// A client hanging up must not abort a cycle that may already be sending.
		sum, err := deps.Poller.PollOnce(context.WithoutCancel(r.Context()))
		if errors.Is(err, autoreply.ErrBusy) {
			httpError(w, http.StatusConflict, "conflict", "poll already in progress")
			return
		}
		if err != nil {
			slog.Error("manual poll failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "Poll failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

// QueueEntry is a queue item joined with its trigger message and contact.
type QueueEntry struct {
	storage.QueueItem
	Message *wacli.Message `json:"message"`
	Contact *wacli.Contact `json:"contact"`
}

func handleListQueue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		limit := parseIntParam(r, "limit", 50, 200)

		items, err := deps.Queue.List(status, limit)
		var ve *autoreply.ValidationError
		if errors.As(err, &ve) {
			validationError(w, ve)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to fetch approval queue: %v", err)
			return
		}

		entries := make([]QueueEntry, 0, len(items))
		for _, it := range items {
			entries = append(entries, joinEntry(r.Context(), deps, it))
		}

		writeJSON(w, http.StatusOK, map[string]any{"items": entries})
	}
}

// joinEntry attaches the trigger message and contact. Join failures leave the
// fields null rather than failing the request.
func joinEntry(ctx context.Context, deps Deps, it storage.QueueItem) QueueEntry {
	e := QueueEntry{QueueItem: it}
	if deps.Messages == nil {
		return e
	}
	if m, err := deps.Messages.Message(ctx, it.ChatJID, it.TriggerMessageID); err == nil {
		e.Message = m
	}
	if c, err := deps.Messages.Contact(ctx, it.ChatJID); err == nil {
		e.Contact = c
	}
	return e
}

func handleGetQueueItem(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			validationError(w, &autoreply.ValidationError{Fields: map[string]string{"id": "must be an integer"}})
			return
		}

		item, err := deps.Queue.Get(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "queue item %d not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load queue item: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": joinEntry(r.Context(), deps, item)})
	}
}

func handleListLog(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		entries, err := deps.Queue.History(r.URL.Query().Get("chatJid"), limit)
		var ve *autoreply.ValidationError
		if errors.As(err, &ve) {
			validationError(w, ve)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read reply log: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	}
}

type resolveRequest struct {
	ID         *int64  `json:"id"`
	Action     string  `json:"action"`
	EditedText *string `json:"editedText"`
}

func handleResolveQueue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resolveRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ID == nil {
			validationError(w, &autoreply.ValidationError{Fields: map[string]string{"id": "required"}})
			return
		}

		res, err := deps.Queue.Resolve(context.WithoutCancel(r.Context()), *req.ID, autoreply.Action(req.Action), req.EditedText)
		var ve *autoreply.ValidationError
		var resumeErr *sender.ResumeError
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "messageId": res.MessageID})
		case errors.As(err, &ve):
			validationError(w, ve)
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "Queue item not found or already processed")
		case errors.As(err, &resumeErr) && res.MessageID != "":
			// The reply went out; the sync daemon did not come back.
			slog.Error("approved reply sent but sync daemon is down", "queue_id", *req.ID, "critical", true, "error", err)
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "messageId": res.MessageID, "warning": resumeErr.Error()})
		case errors.As(err, &resumeErr):
			slog.Error("sync daemon is down after failed approval send", "queue_id", *req.ID, "critical", true, "error", err)
			httpError(w, http.StatusInternalServerError, "critical_resume_failure", "%v", err)
		default:
			slog.Error("failed to process approval queue action", "queue_id", *req.ID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to process approval queue action: %v", err)
		}
	}
}

func handleGetSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if chat := r.URL.Query().Get("chatJid"); chat != "" {
			cfg, err := deps.Config.Get(chat)
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "no auto-response config for %s", chat)
				return
			}
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to load config: %v", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"config": cfg})
			return
		}

		configs, err := deps.Config.List()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list configs: %v", err)
			return
		}
		if configs == nil {
			configs = []storage.ChatConfig{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"configs": configs})
	}
}

func handleUpdateSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u autoreply.ConfigUpdate
		if !decodeBody(w, r, &u) {
			return
		}

		cfg, err := deps.Config.Update(u)
		var ve *autoreply.ValidationError
		if errors.As(err, &ve) {
			validationError(w, ve)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save config: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "config": cfg})
	}
}

type globalSettings struct {
	Enabled       bool `json:"enabled"`
	PollerRunning bool `json:"pollerRunning"`
}

func handleGetGlobal(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		on, err := deps.Config.KillSwitch()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read kill switch: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, globalSettings{Enabled: on, PollerRunning: deps.Poller.IsRunning()})
	}
}

func handleSetGlobal(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Enabled *bool `json:"enabled"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Enabled == nil {
			validationError(w, &autoreply.ValidationError{Fields: map[string]string{"enabled": "required"}})
			return
		}
		if err := deps.Config.SetKillSwitch(*req.Enabled); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to set kill switch: %v", err)
			return
		}
		slog.Info("kill switch changed", "enabled", *req.Enabled)
		writeJSON(w, http.StatusOK, globalSettings{Enabled: *req.Enabled, PollerRunning: deps.Poller.IsRunning()})
	}
}

func handleSend(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.SendLimiter.Allow() {
			httpError(w, http.StatusTooManyRequests, "rate_limit_error", "Rate limit exceeded. Maximum %d requests per minute.", SendRateLimit)
			return
		}

		var req struct {
			To      string `json:"to"`
			Message string `json:"message"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := deps.Sender.Send(context.WithoutCancel(r.Context()), req.To, req.Message)
		var ve *sender.ValidationError
		var resumeErr *sender.ResumeError
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "messageId": res.MessageID})
		case errors.As(err, &ve):
			validationError(w, &autoreply.ValidationError{Fields: map[string]string{ve.Field: ve.Message}})
		case errors.As(err, &resumeErr) && res.MessageID != "":
			slog.Error("manual send delivered but sync daemon is down", "critical", true, "error", err)
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "messageId": res.MessageID, "warning": resumeErr.Error()})
		case errors.As(err, &resumeErr):
			slog.Error("sync daemon is down after failed manual send", "critical", true, "error", err)
			httpError(w, http.StatusInternalServerError, "critical_resume_failure", "%v", err)
		default:
			slog.Error("failed to send WhatsApp message", "to", req.To, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "Failed to send message. Please try again later.")
		}
	}
}
