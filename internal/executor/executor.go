// Package executor runs a job's prompt through the agent subprocess.
//
// The bridge is a single JSON exchange: the request goes to the child's
// stdin, the child answers with one JSON object on stdout and exits. The
// caller's context bounds the whole run; a killed or timed-out child
// surfaces as an error so the scheduler can settle the job as failed.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/danitrap/ambrogio-agent-sub000/pkg/logx"
)

// Request describes the work handed to the agent.
type Request struct {
	Prompt string `json:"prompt"`
	UserID string `json:"userId,omitempty"`
	ChatID string `json:"chatId,omitempty"`
	// Headless tells the agent not to expect interactive confirmation.
	Headless bool `json:"headless"`
}

// Result is the agent's answer.
type Result struct {
	Text string `json:"text"`
	OK   bool   `json:"ok"`
}

// Runner executes a request. The scheduler depends on this interface;
// Subprocess is the production implementation.
type Runner interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

type Config struct {
	// Command and arguments of the agent bridge process.
	Command []string
	// WorkDir is the child's working directory ("" means inherit).
	WorkDir string
}

type Subprocess struct {
	cfg Config
	log logx.Logger
}

func NewSubprocess(cfg Config, log logx.Logger) (*Subprocess, error) {
	if len(cfg.Command) == 0 || strings.TrimSpace(cfg.Command[0]) == "" {
		return nil, errors.New("executor command is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Subprocess{cfg: cfg, log: log}, nil
}

func (e *Subprocess) Execute(ctx context.Context, req Request) (Result, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, e.cfg.Command[0], e.cfg.Command[1:]...)
	cmd.Dir = e.cfg.WorkDir
	cmd.Stdin = bytes.NewReader(append(input, '\n'))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		e.log.Warn("agent subprocess failed",
			logx.Err(err),
			logx.Duration("took", time.Since(start)),
			logx.String("stderr", truncate(stderr.String(), 500)))
		return Result{}, err
	}

	var res Result
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &res); err != nil {
		return Result{}, errors.New("agent returned malformed output: " + truncate(stdout.String(), 200))
	}
	e.log.Debug("agent subprocess done",
		logx.Bool("ok", res.OK),
		logx.Duration("took", time.Since(start)))
	return res, nil
}

func truncate(s string, maxN int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxN {
		return s
	}
	return s[:maxN] + "..."
}
