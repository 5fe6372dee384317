// Package generator produces style profiles and candidate replies through an
// OpenRouter-hosted chat model.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/singleflight"

	"github.com/adaofeliz/whatsapp-agent-web/internal/storage"
)

// StyleCacheNamespace is the cache_entries namespace holding style profiles.
const StyleCacheNamespace = "style_profile"

// StyleCacheTTL bounds how long a profile is reused for the same contact.
const StyleCacheTTL = 24 * time.Hour

// Message is one line of conversation handed to the model.
type Message struct {
	FromMe    bool
	Body      string
	Timestamp int64
}

type StyleProfile struct {
	MessageLength  string   `json:"messageLength"`
	FormalityLevel string   `json:"formalityLevel"`
	EmojiUsage     string   `json:"emojiUsage"`
	ResponseSpeed  string   `json:"responseSpeed"`
	ResponseStyle  string   `json:"responseStyle"`
	CommonPhrases  []string `json:"commonPhrases"`
	Topics         []string `json:"topics"`
	EmotionalTone  string   `json:"emotionalTone"`
	Summary        string   `json:"summary"`
}

// Usage is the token spend of one completion.
type Usage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// Reply is a candidate response with the model's own confidence in [0,1].
type Reply struct {
	Message    string  `json:"message"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Usage      Usage   `json:"-"`
}

// GenerationError wraps any failure to obtain a usable model answer.
type GenerationError struct {
	Task Task
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Task, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

type Config struct {
	APIKey  string
	BaseURL string
	Referer string
	Title   string
	Timeout time.Duration
	Models  Models
}

// Client talks to the model backend. The style cache is optional.
type Client struct {
	llm    chatCompleter
	models Models
	cache  *storage.TTLCache[StyleProfile]
	group  singleflight.Group
	logger *slog.Logger
}

// New creates a Client against OpenRouter.
func New(cfg Config, cache *storage.TTLCache[StyleProfile]) *Client {
	llm := newOpenRouterClient(cfg.APIKey, cfg.BaseURL, cfg.Referer, cfg.Title, cfg.Timeout)
	return newClient(llm, cfg.Models, cache)
}

func newClient(llm chatCompleter, models Models, cache *storage.TTLCache[StyleProfile]) *Client {
	if models == nil {
		models = DefaultModels()
	}
	return &Client{llm: llm, models: models, cache: cache, logger: slog.Default()}
}

// AnalyzeStyle returns the style profile for contactName, from cache when a
// fresh entry exists. Concurrent misses for one contact share a single call.
func (c *Client) AnalyzeStyle(ctx context.Context, contactName string, msgs []Message) (StyleProfile, error) {
	if c.cache != nil {
		p, ok, err := c.cache.Get(contactName)
		if err != nil {
			c.logger.Warn("style cache read failed", "contact", contactName, "error", err)
		} else if ok {
			CacheLookups.WithLabelValues("hit").Inc()
			return p, nil
		}
		CacheLookups.WithLabelValues("miss").Inc()
	}

	v, err, _ := c.group.Do(contactName, func() (any, error) {
		var p StyleProfile
		if _, err := c.complete(ctx, TaskStyleAnalysis, buildStylePrompt(contactName, msgs), &p); err != nil {
			return StyleProfile{}, err
		}
		if c.cache != nil {
			if err := c.cache.Put(contactName, p); err != nil {
				c.logger.Warn("style cache write failed", "contact", contactName, "error", err)
			} else if n, err := c.cache.Purge(); err == nil && n > 0 {
				c.logger.Debug("purged stale style profiles", "count", n)
			}
		}
		return p, nil
	})
	if err != nil {
		return StyleProfile{}, err
	}
	return v.(StyleProfile), nil
}

// GenerateReply asks the model for a reply to the latest inbound message.
func (c *Client) GenerateReply(ctx context.Context, contactName string, profile StyleProfile, msgs []Message, convContext string) (Reply, error) {
	profileJSON, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return Reply{}, &GenerationError{Task: TaskAutoResponse, Err: err}
	}

	var r Reply
	usage, err := c.complete(ctx, TaskAutoResponse, buildReplyPrompt(contactName, string(profileJSON), msgs, convContext), &r)
	if err != nil {
		return Reply{}, err
	}
	if strings.TrimSpace(r.Message) == "" {
		return Reply{}, &GenerationError{Task: TaskAutoResponse, Err: errors.New("model returned an empty message")}
	}
	r.Confidence = min(max(r.Confidence, 0), 1)
	r.Usage = usage
	return r, nil
}

// complete sends a single-message JSON-mode request and decodes the answer
// into out.
func (c *Client) complete(ctx context.Context, task Task, prompt string, out any) (Usage, error) {
	model := c.models.forTask(task)
	start := time.Now()

	resp, err := completeWithRetry(ctx, c.llm, openai.ChatCompletionRequest{
		Model: model.ID,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	RequestDuration.WithLabelValues(string(task)).Observe(time.Since(start).Seconds())
	if err != nil {
		Requests.WithLabelValues(string(task), "error").Inc()
		return Usage{}, &GenerationError{Task: task, Err: err}
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		Requests.WithLabelValues(string(task), "empty").Inc()
		return Usage{}, &GenerationError{Task: task, Err: errors.New("no content in model response")}
	}

	if err := json.Unmarshal([]byte(stripFences(resp.Choices[0].Message.Content)), out); err != nil {
		Requests.WithLabelValues(string(task), "invalid").Inc()
		return Usage{}, &GenerationError{Task: task, Err: fmt.Errorf("parsing model output: %w", err)}
	}
	Requests.WithLabelValues(string(task), "ok").Inc()

	u := Usage{
		Model:            model.ID,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		CostUSD:          model.cost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}
	c.logger.Debug("completion", "task", task, "model", model.ID,
		"prompt_tokens", u.PromptTokens, "completion_tokens", u.CompletionTokens, "cost_usd", u.CostUSD)
	return u, nil
}

// stripFences removes a ```json fenced block some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
