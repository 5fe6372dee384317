package autoreply

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/adaofeliz/whatsapp-agent-web/internal/jid"
	"github.com/adaofeliz/whatsapp-agent-web/internal/storage"
)

const (
	defaultContextWindow = 10
	maxContextWindow     = 100
)

// ValidationError carries field-level problems with operator input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "Validation failed: " + strings.Join(parts, "; ")
}

func fieldError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// Nullable is a JSON field that distinguishes "absent" from "null".
type Nullable[T any] struct {
	Set   bool
	Value *T
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// Null returns a Nullable explicitly set to null.
func Null[T any]() Nullable[T] { return Nullable[T]{Set: true} }

// Some returns a Nullable set to v.
func Some[T any](v T) Nullable[T] { return Nullable[T]{Set: true, Value: &v} }

// ConfigUpdate is a partial change to one chat's policy. Nil fields are left
// untouched.
type ConfigUpdate struct {
	ChatJID               string          `json:"chatJid"`
	Enabled               *bool           `json:"enabled,omitempty"`
	RequireApproval       *bool           `json:"requireApproval,omitempty"`
	MaxDailyResponses     Nullable[int]   `json:"maxDailyResponses"`
	ContextWindowMessages *int            `json:"contextWindowMessages,omitempty"`
	StyleProfileID        Nullable[int64] `json:"styleProfileId"`
}

func (u ConfigUpdate) validate() error {
	fields := map[string]string{}
	if u.ChatJID == "" {
		fields["chatJid"] = "required"
	} else if _, err := jid.Parse(u.ChatJID); err != nil {
		fields["chatJid"] = err.Error()
	}
	if u.ContextWindowMessages != nil {
		if n := *u.ContextWindowMessages; n < 1 || n > maxContextWindow {
			fields["contextWindowMessages"] = fmt.Sprintf("must be between 1 and %d", maxContextWindow)
		}
	}
	if u.MaxDailyResponses.Value != nil && *u.MaxDailyResponses.Value < 0 {
		fields["maxDailyResponses"] = "must be >= 0"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

type ConfigStore interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
	GetChatConfig(chatJID string) (storage.ChatConfig, error)
	ListChatConfigs() ([]storage.ChatConfig, error)
	SaveChatConfig(c storage.ChatConfig) (storage.ChatConfig, error)
	StyleProfileExists(id int64) (bool, error)
}

// ConfigService manages per-chat policy and the global kill switch.
type ConfigService struct {
	store ConfigStore
}

func NewConfigService(store ConfigStore) *ConfigService {
	return &ConfigService{store: store}
}

func (s *ConfigService) List() ([]storage.ChatConfig, error) {
	return s.store.ListChatConfigs()
}

// Get returns the config for chatJID or storage.ErrNotFound.
func (s *ConfigService) Get(chatJID string) (storage.ChatConfig, error) {
	return s.store.GetChatConfig(chatJID)
}

// Update applies u on top of the existing config, creating it with defaults
// when the chat has none yet.
func (s *ConfigService) Update(u ConfigUpdate) (storage.ChatConfig, error) {
	if err := u.validate(); err != nil {
		return storage.ChatConfig{}, err
	}
	if id := u.StyleProfileID.Value; id != nil {
		ok, err := s.store.StyleProfileExists(*id)
		if err != nil {
			return storage.ChatConfig{}, fmt.Errorf("checking style profile %d: %w", *id, err)
		}
		if !ok {
			return storage.ChatConfig{}, fieldError("styleProfileId", fmt.Sprintf("unknown style profile %d", *id))
		}
	}

	cfg, err := s.store.GetChatConfig(u.ChatJID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		cfg = storage.ChatConfig{
			ChatJID:               u.ChatJID,
			RequireApproval:       true,
			ContextWindowMessages: defaultContextWindow,
		}
	case err != nil:
		return storage.ChatConfig{}, fmt.Errorf("loading config for %s: %w", u.ChatJID, err)
	}

	if u.Enabled != nil {
		cfg.Enabled = *u.Enabled
	}
	if u.RequireApproval != nil {
		cfg.RequireApproval = *u.RequireApproval
	}
	if u.ContextWindowMessages != nil {
		cfg.ContextWindowMessages = *u.ContextWindowMessages
	}
	if u.MaxDailyResponses.Set {
		cfg.MaxDailyResponses = u.MaxDailyResponses.Value
	}
	if u.StyleProfileID.Set {
		cfg.StyleProfileID = u.StyleProfileID.Value
	}

	return s.store.SaveChatConfig(cfg)
}

// KillSwitch reports whether auto-replies are globally enabled.
func (s *ConfigService) KillSwitch() (bool, error) {
	return killSwitch(s.store)
}

func (s *ConfigService) SetKillSwitch(enabled bool) error {
	return s.store.SetSetting(storage.SettingAutoResponseEnabled, strconv.FormatBool(enabled))
}

// killSwitch reads the setting fresh; a missing row means disabled.
func killSwitch(store interface{ GetSetting(string) (string, error) }) (bool, error) {
	v, err := store.GetSetting(storage.SettingAutoResponseEnabled)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "true", nil
}
