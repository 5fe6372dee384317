package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/adaofeliz/whatsapp-agent-web/internal/autoreply"
	"github.com/adaofeliz/whatsapp-agent-web/internal/sender"
	"github.com/adaofeliz/whatsapp-agent-web/internal/storage"
	"github.com/adaofeliz/whatsapp-agent-web/internal/wacli"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Manual sends share one global budget.
const (
	SendRateLimit = 30
	SendRateBurst = 30
)

// MessageReader is the read side of the wacli store used for presentation
// joins and health checks.
type MessageReader interface {
	Message(ctx context.Context, chatJID, msgID string) (*wacli.Message, error)
	Contact(ctx context.Context, contactJID string) (*wacli.Contact, error)
	LastMessageTimestamp(ctx context.Context) (int64, bool, error)
}

type QueueService interface {
	List(status string, limit int) ([]storage.QueueItem, error)
	Get(id int64) (storage.QueueItem, error)
	Resolve(ctx context.Context, id int64, action autoreply.Action, editedText *string) (autoreply.ResolveResult, error)
	History(chatJID string, limit int) ([]storage.LogEntry, error)
}

type ConfigService interface {
	List() ([]storage.ChatConfig, error)
	Get(chatJID string) (storage.ChatConfig, error)
	Update(u autoreply.ConfigUpdate) (storage.ChatConfig, error)
	KillSwitch() (bool, error)
	SetKillSwitch(enabled bool) error
}

type Poller interface {
	PollOnce(ctx context.Context) (autoreply.CycleSummary, error)
	IsRunning() bool
}

type Sender interface {
	Send(ctx context.Context, to, text string) (sender.Result, error)
	SyncStatus(ctx context.Context) sender.SyncState
}

type Deps struct {
	Messages MessageReader
	Queue    QueueService
	Config   ConfigService
	Poller   Poller
	Sender   Sender
	Token    string

	// SendLimiter bounds POST /api/messages/send. Nil means 30 per minute.
	SendLimiter *rate.Limiter
	Now         func() time.Time
}

// NewHandler returns the HTTP surface of the auto-reply service. Operator
// routes require the bearer token when one is configured.
func NewHandler(deps Deps) http.Handler {
	if deps.SendLimiter == nil {
		deps.SendLimiter = rate.NewLimiter(rate.Every(time.Minute/SendRateLimit), SendRateBurst)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Get("/auto-response/poll", handlePoll(deps))
		r.Post("/auto-response/poll", handlePoll(deps))
		r.Get("/auto-response/queue", handleListQueue(deps))
		r.Post("/auto-response/queue", handleResolveQueue(deps))
		r.Get("/auto-response/queue/{id}", handleGetQueueItem(deps))
		r.Get("/auto-response/log", handleListLog(deps))

		r.Get("/settings/auto-response", handleGetSettings(deps))
		r.Post("/settings/auto-response", handleUpdateSettings(deps))
		r.Get("/settings/auto-response/global", handleGetGlobal(deps))
		r.Put("/settings/auto-response/global", handleSetGlobal(deps))

		r.Post("/messages/send", handleSend(deps))
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

// validationError reports field-level problems with a 400.
func validationError(w http.ResponseWriter, ve *autoreply.ValidationError) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"message": ve.Error(),
			"type":    "invalid_request_error",
			"fields":  ve.Fields,
		},
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}
