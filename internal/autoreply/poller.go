package autoreply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/adaofeliz/whatsapp-agent-web/internal/storage"
	"github.com/adaofeliz/whatsapp-agent-web/internal/wacli"
)

const (
	DefaultPollInterval = 10 * time.Second
	pollBatchSize       = 100
)

// ErrBusy is returned by PollOnce while another cycle is in progress.
var ErrBusy = errors.New("poll cycle already in progress")

// InboundSource lists inbound direct-chat messages newer than a timestamp.
type InboundSource interface {
	UnseenInbound(ctx context.Context, sinceTS int64, limit int) ([]wacli.Message, error)
}

type WatermarkStore interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
}

// Processor handles one inbound message.
type Processor interface {
	Process(ctx context.Context, msg wacli.Message) (Decision, error)
}

// MessageResult is the per-message line of a cycle summary.
type MessageResult struct {
	Decision
	Error string `json:"error,omitempty"`
}

type CycleSummary struct {
	CycleID   string          `json:"cycleId"`
	Checked   int             `json:"checked"`
	Sent      int             `json:"sent"`
	Queued    int             `json:"queued"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	Watermark int64           `json:"watermark"`
	Results   []MessageResult `json:"results"`
}

// Poller discovers unseen inbound messages and feeds each to the engine once.
// At most one cycle runs at a time; a tick that finds one running is dropped.
type Poller struct {
	engine   Processor
	source   InboundSource
	store    WatermarkStore
	interval time.Duration
	logger   *slog.Logger

	busy atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a Poller. If interval is <= 0, it defaults to 10s.
func NewPoller(engine Processor, source InboundSource, store WatermarkStore, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		engine:   engine,
		source:   source,
		store:    store,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Start launches the background loop: one cycle immediately, then one per
// interval. It returns false if the loop was already running.
func (p *Poller) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.logger.Info("poller already running")
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.logger.Info("poller starting", "interval", p.interval)
	go p.run(ctx, p.done)
	return true
}

// Stop halts the loop and waits for an in-flight cycle to finish. It returns
// false if the loop was not running.
func (p *Poller) Stop() bool {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return false
	}
	p.logger.Info("poller stopping")
	cancel()
	<-done
	return true
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	_, err := p.PollOnce(ctx)
	switch {
	case errors.Is(err, ErrBusy):
		p.logger.Debug("poll skipped, previous cycle still running")
	case err != nil:
		p.logger.Error("poll cycle failed", "error", err)
	}
}

// PollOnce runs a single cycle. It returns ErrBusy without doing anything
// when a cycle is already in progress.
func (p *Poller) PollOnce(ctx context.Context) (CycleSummary, error) {
	if !p.busy.CompareAndSwap(false, true) {
		PollCycles.WithLabelValues("busy").Inc()
		return CycleSummary{}, ErrBusy
	}
	defer p.busy.Store(false)

	start := time.Now()
	defer func() { PollDuration.Observe(time.Since(start).Seconds()) }()

	// A started batch always runs to completion so the watermark never
	// passes a message that was not processed.
	sum, err := p.cycle(context.WithoutCancel(ctx))
	if err != nil {
		PollCycles.WithLabelValues("error").Inc()
		return sum, err
	}
	PollCycles.WithLabelValues("ok").Inc()
	return sum, nil
}

func (p *Poller) cycle(ctx context.Context) (CycleSummary, error) {
	sum := CycleSummary{CycleID: uuid.NewString(), Results: []MessageResult{}}
	log := p.logger.With("cycle_id", sum.CycleID)

	mark, err := p.watermark()
	if err != nil {
		return sum, err
	}
	sum.Watermark = mark

	msgs, err := p.source.UnseenInbound(ctx, mark, pollBatchSize)
	if err != nil {
		return sum, fmt.Errorf("listing unseen messages: %w", err)
	}
	if len(msgs) == 0 {
		log.Debug("no new messages")
		return sum, nil
	}
	log.Info("found new messages", "count", len(msgs))

	maxTS := mark
	for _, m := range msgs {
		maxTS = max(maxTS, m.Timestamp)
		sum.Checked++

		d, err := p.engine.Process(ctx, m)
		r := MessageResult{Decision: d}
		if d.ChatJID == "" {
			r.ChatJID, r.MessageID = m.ChatJID, m.MsgID
		}

		switch {
		case err != nil && d.Outcome == OutcomeSent:
			// Delivered, but something after the send failed.
			sum.Sent++
			r.Error = err.Error()
			log.Error("message sent with error", "msg_id", m.MsgID, "chat_jid", m.ChatJID, "error", err)
		case err != nil:
			sum.Failed++
			r.Error = err.Error()
			log.Error("failed to process message", "msg_id", m.MsgID, "chat_jid", m.ChatJID, "error", err)
		default:
			switch d.Outcome {
			case OutcomeSent:
				sum.Sent++
			case OutcomeQueued:
				sum.Queued++
			default:
				sum.Skipped++
			}
			log.Info("processed message", "msg_id", m.MsgID, "action", d.Outcome, "reason", d.Reason)
		}
		sum.Results = append(sum.Results, r)
	}

	if err := p.store.SetSetting(storage.SettingLastCheckTS, strconv.FormatInt(maxTS, 10)); err != nil {
		return sum, fmt.Errorf("advancing watermark to %d: %w", maxTS, err)
	}
	sum.Watermark = maxTS
	Watermark.Set(float64(maxTS))
	return sum, nil
}

// watermark returns the last processed timestamp, 0 when none is stored.
func (p *Poller) watermark() (int64, error) {
	v, err := p.store.GetSetting(storage.SettingLastCheckTS)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading watermark: %w", err)
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing watermark %q: %w", v, err)
	}
	return ts, nil
}
