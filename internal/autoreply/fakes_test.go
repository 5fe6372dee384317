package autoreply

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/adaofeliz/whatsapp-agent-web/internal/generator"
	"github.com/adaofeliz/whatsapp-agent-web/internal/sender"
	"github.com/adaofeliz/whatsapp-agent-web/internal/storage"
	"github.com/adaofeliz/whatsapp-agent-web/internal/wacli"
)

const (
	chatA = "15550000001@s.whatsapp.net"
	chatB = "15550000002@s.whatsapp.net"
	group = "120363000000000000@g.us"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type fakeSource struct {
	history []wacli.Message
	name    string
	unseen  []wacli.Message
}

func (f *fakeSource) RecentMessages(_ context.Context, _ string, limit int) ([]wacli.Message, error) {
	if len(f.history) > limit {
		return f.history[:limit], nil
	}
	return f.history, nil
}

func (f *fakeSource) ContactDisplayName(_ context.Context, chatJID string) (string, error) {
	if f.name != "" {
		return f.name, nil
	}
	return chatJID, nil
}

func (f *fakeSource) UnseenInbound(_ context.Context, sinceTS int64, limit int) ([]wacli.Message, error) {
	var out []wacli.Message
	for _, m := range f.unseen {
		if m.Timestamp > sinceTS && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeGenerator struct {
	mu         sync.Mutex
	confidence float64
	message    string
	err        error
	calls      int
	contexts   []string
}

func (f *fakeGenerator) AnalyzeStyle(_ context.Context, _ string, _ []generator.Message) (generator.StyleProfile, error) {
	if f.err != nil {
		return generator.StyleProfile{}, f.err
	}
	return generator.StyleProfile{Summary: "casual"}, nil
}

func (f *fakeGenerator) GenerateReply(_ context.Context, _ string, _ generator.StyleProfile, _ []generator.Message, convContext string) (generator.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.contexts = append(f.contexts, convContext)
	if f.err != nil {
		return generator.Reply{}, f.err
	}
	msg := f.message
	if msg == "" {
		msg = "sounds good"
	}
	return generator.Reply{
		Message:    msg,
		Confidence: f.confidence,
		Usage:      generator.Usage{PromptTokens: 100, CompletionTokens: 20, CostUSD: 0.00015},
	}, nil
}

type sentMessage struct{ to, text string }

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	err    error
	keepID bool // deliver and still return err
	next   int
}

func (f *fakeSender) Send(_ context.Context, to, text string) (sender.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil && !f.keepID {
		return sender.Result{}, f.err
	}
	f.next++
	f.sent = append(f.sent, sentMessage{to: to, text: text})
	return sender.Result{MessageID: "3EB0" + string(rune('A'+f.next-1)), To: to}, f.err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fixedClock returns a clock pinned at now that tests can advance.
type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func inbound(chat, id string, ts int64, text string) wacli.Message {
	return wacli.Message{ChatJID: chat, MsgID: id, SenderJID: chat, Timestamp: ts, Text: text}
}

func intPtr(v int) *int { return &v }
