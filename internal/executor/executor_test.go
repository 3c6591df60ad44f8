package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/danitrap/ambrogio-agent-sub000/pkg/logx"
)

func newRunner(t *testing.T, script string) *Subprocess {
	t.Helper()
	r, err := NewSubprocess(Config{Command: []string{"sh", "-c", script}}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestExecuteRoundTrip(t *testing.T) {
	t.Parallel()
	// The child reads the request from stdin and answers with one JSON
	// object on stdout.
	r := newRunner(t, `cat > /dev/null; printf '{"text":"done at 9","ok":true}\n'`)

	res, err := r.Execute(context.Background(), Request{Prompt: "remind me", Headless: true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.OK || res.Text != "done at 9" {
		t.Errorf("result = %+v", res)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	t.Parallel()
	r := newRunner(t, `echo boom >&2; exit 3`)
	if _, err := r.Execute(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Fatal("non-zero exit did not error")
	}
}

func TestExecuteMalformedOutput(t *testing.T) {
	t.Parallel()
	r := newRunner(t, `echo not-json`)
	_, err := r.Execute(context.Background(), Request{Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "malformed") {
		t.Fatalf("err = %v", err)
	}
}

func TestExecuteTimeout(t *testing.T) {
	t.Parallel()
	r := newRunner(t, `sleep 5`)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := r.Execute(ctx, Request{Prompt: "x"})
	if err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestNewSubprocessRejectsEmptyCommand(t *testing.T) {
	t.Parallel()
	if _, err := NewSubprocess(Config{}, logx.Nop()); err == nil {
		t.Error("empty command accepted")
	}
	if _, err := NewSubprocess(Config{Command: []string{"  "}}, logx.Nop()); err == nil {
		t.Error("blank command accepted")
	}
}
