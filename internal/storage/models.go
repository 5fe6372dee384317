package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

const (
	SettingAutoResponseEnabled = "auto_response_enabled"
	SettingLastCheckTS         = "auto_response_last_check_ts"
)

// Queue item statuses. Transitions only leave StatusPending.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
)

// ValidStatus reports whether s is a known approval queue status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// ChatConfig is the auto-reply policy for one chat.
type ChatConfig struct {
	ID                    int64      `json:"id"`
	ChatJID               string     `json:"chatJid"`
	Enabled               bool       `json:"enabled"`
	StyleProfileID        *int64     `json:"styleProfileId"`
	RequireApproval       bool       `json:"requireApproval"`
	MaxDailyResponses     *int       `json:"maxDailyResponses"`
	DailyResponseCount    int        `json:"dailyResponseCount"`
	DailyCountResetAt     *time.Time `json:"dailyCountResetAt"`
	ContextWindowMessages int        `json:"contextWindowMessages"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

type QueueItem struct {
	ID               int64      `json:"id"`
	ChatJID          string     `json:"chatJid"`
	TriggerMessageID string     `json:"triggerMessageId"`
	ProposedResponse string     `json:"proposedResponse"`
	StyleProfileID   *int64     `json:"styleProfileId"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"createdAt"`
	ExpiresAt        time.Time  `json:"expiresAt"`
	ResolvedAt       *time.Time `json:"resolvedAt"`
}

// LogEntry records one reply that was actually delivered.
type LogEntry struct {
	ID                int64     `json:"id"`
	ChatJID           string    `json:"chatJid"`
	TriggerMessageID  string    `json:"triggerMessageId"`
	ResponseMessageID string    `json:"responseMessageId"`
	StyleProfileID    *int64    `json:"styleProfileId"`
	PromptTokens      int       `json:"promptTokens"`
	CompletionTokens  int       `json:"completionTokens"`
	CostUSD           float64   `json:"costUsd"`
	Approved          bool      `json:"approved"`
	CreatedAt         time.Time `json:"createdAt"`
}
