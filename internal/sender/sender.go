// Package sender delivers outbound WhatsApp messages through the wacli CLI.
//
// wacli holds an exclusive lock on its store while `wacli sync --follow`
// runs under supervisord, so every send stops the sync program, runs
// `wacli send`, and restarts the sync program whatever the outcome.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/adaofeliz/whatsapp-agent-web/internal/jid"
)

const defaultTimeout = 30 * time.Second

// Runner executes an external command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

type Config struct {
	BinaryPath       string
	StoreDir         string
	Supervisorctl    string
	SupervisorConfig string
	SyncProgram      string
	Timeout          time.Duration
}

// Result identifies a delivered message.
type Result struct {
	MessageID string `json:"messageId"`
	To        string `json:"to"`
}

type SyncState string

const (
	SyncRunning SyncState = "running"
	SyncStopped SyncState = "stopped"
)

// Sender serializes sends process-wide; the wacli store lock is exclusive.
type Sender struct {
	cfg    Config
	run    Runner
	mu     sync.Mutex
	logger *slog.Logger
}

// New creates a Sender. Empty config fields fall back to the stock
// supervisord layout.
func New(cfg Config, run Runner) *Sender {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "wacli"
	}
	if cfg.Supervisorctl == "" {
		cfg.Supervisorctl = "supervisorctl"
	}
	if cfg.SupervisorConfig == "" {
		cfg.SupervisorConfig = "/etc/supervisor/conf.d/supervisord.conf"
	}
	if cfg.SyncProgram == "" {
		cfg.SyncProgram = "wacli-sync"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if run == nil {
		run = ExecRunner{}
	}
	return &Sender{cfg: cfg, run: run, logger: slog.Default()}
}

// Validate checks a send target and body without touching the sync daemon.
func Validate(to, text string) error {
	if _, err := jid.Parse(to); err != nil {
		return &ValidationError{Field: "to", Message: err.Error()}
	}
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Field: "message", Message: "message cannot be empty"}
	}
	return nil
}

// Send delivers text to the chat identified by to.
//
// A *ValidationError is returned before any external command runs. A failed
// delivery yields a *SendError. If the sync daemon cannot be restarted the
// returned error also carries a *ResumeError, even when the send succeeded.
func (s *Sender) Send(ctx context.Context, to, text string) (Result, error) {
	if err := Validate(to, text); err != nil {
		SendsTotal.WithLabelValues("invalid").Inc()
		return Result{}, err
	}

	start := time.Now()
	defer func() { SendDuration.Observe(time.Since(start).Seconds()) }()

	var res Result
	err := s.WithSyncPaused(ctx, func(ctx context.Context) error {
		var sendErr error
		res, sendErr = s.sendText(ctx, to, text)
		return sendErr
	})

	var resumeErr *ResumeError
	switch {
	case err == nil:
		SendsTotal.WithLabelValues("sent").Inc()
		s.logger.Info("message sent", "chat_jid", to, "msg_id", res.MessageID)
		return res, nil
	case errors.As(err, &resumeErr) && res.MessageID != "":
		// Delivered, but the daemon is down.
		SendsTotal.WithLabelValues("sent").Inc()
		return res, err
	default:
		SendsTotal.WithLabelValues("failed").Inc()
		return Result{}, err
	}
}

// WithSyncPaused stops the sync program, runs fn, and always attempts to
// start the sync program again. A restart failure is reported as a
// *ResumeError joined with fn's error.
func (s *Sender) WithSyncPaused(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fnErr error
	if err := s.supervisorctl(ctx, "stop"); err != nil {
		fnErr = &SendError{Err: fmt.Errorf("stopping %s: %w", s.cfg.SyncProgram, err)}
	} else {
		fnErr = fn(ctx)
	}

	// Resume even when the caller's context is already cancelled.
	resumeCtx := context.WithoutCancel(ctx)
	if err := s.supervisorctl(resumeCtx, "start"); err != nil {
		ResumeFailures.Inc()
		resumeErr := &ResumeError{Program: s.cfg.SyncProgram, Err: err}
		s.logger.Error("sync daemon restart failed", "program", s.cfg.SyncProgram, "critical", true, "error", err)
		return errors.Join(fnErr, resumeErr)
	}
	return fnErr
}

// SyncStatus reports whether the sync program is running. Any failure to
// query supervisord counts as stopped.
func (s *Sender) SyncStatus(ctx context.Context) SyncState {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	// supervisorctl exits non-zero for stopped programs; the output still says why.
	out, _ := s.run.Run(cctx, s.cfg.Supervisorctl, "-c", s.cfg.SupervisorConfig, "status", s.cfg.SyncProgram)
	if bytes.Contains(out, []byte("RUNNING")) {
		return SyncRunning
	}
	return SyncStopped
}

func (s *Sender) supervisorctl(ctx context.Context, action string) error {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	_, err := s.run.Run(cctx, s.cfg.Supervisorctl, "-c", s.cfg.SupervisorConfig, action, s.cfg.SyncProgram)
	return err
}

func (s *Sender) sendText(ctx context.Context, to, text string) (Result, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	args := []string{"send", "text", "--to", to, "--message", text}
	if s.cfg.StoreDir != "" {
		args = append(args, "--store", s.cfg.StoreDir)
	}
	args = append(args, "--json")

	out, err := s.run.Run(cctx, s.cfg.BinaryPath, args...)
	if err != nil {
		return Result{}, &SendError{To: to, Err: err}
	}

	p, err := parseSendOutput(out)
	if err != nil {
		return Result{}, &SendError{To: to, Err: err}
	}
	if !p.Sent {
		return Result{}, &SendError{To: to, Err: errors.New("wacli reported message not sent")}
	}
	return Result{MessageID: p.ID, To: p.To}, nil
}

type sendPayload struct {
	Sent bool   `json:"sent"`
	To   string `json:"to"`
	ID   string `json:"id"`
}

type sendEnvelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

// parseSendOutput accepts both the bare payload and the
// {success, data, error} envelope newer wacli versions print.
func parseSendOutput(out []byte) (sendPayload, error) {
	out = bytes.TrimSpace(out)
	var env sendEnvelope
	if err := json.Unmarshal(out, &env); err != nil {
		return sendPayload{}, fmt.Errorf("parsing wacli output: %w", err)
	}

	if env.Success != nil && !*env.Success {
		msg := strings.Trim(string(env.Error), `"`)
		if msg == "" || msg == "null" {
			msg = "unknown error"
		}
		return sendPayload{}, fmt.Errorf("wacli error: %s", msg)
	}

	body := out
	if len(env.Data) > 0 && string(env.Data) != "null" {
		body = env.Data
	}

	var p sendPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return sendPayload{}, fmt.Errorf("parsing wacli send result: %w", err)
	}
	if p.ID == "" && p.Sent {
		return sendPayload{}, errors.New("wacli send result has no message id")
	}
	return p, nil
}
