package fault

import (
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestCodeOf(t *testing.T) {
	t.Parallel()

	err := New(NotFound, "job %s not found", "abc")
	if got := CodeOf(err); got != NotFound {
		t.Errorf("CodeOf = %s", got)
	}
	if !strings.Contains(err.Error(), "abc") {
		t.Errorf("message = %q", err.Error())
	}

	if got := CodeOf(io.EOF); got != Internal {
		t.Errorf("untagged error = %s, want INTERNAL", got)
	}
	if got := CodeOf(nil); got != "" {
		t.Errorf("nil error = %q", got)
	}
}

func TestWrapKeepsCode(t *testing.T) {
	t.Parallel()

	inner := New(InvalidTime, "run time is in the past")
	outer := fmt.Errorf("creating job: %w", inner)
	if got := CodeOf(outer); got != InvalidTime {
		t.Errorf("code lost through fmt wrap: %s", got)
	}

	wrapped := Wrap(BadRequest, io.ErrUnexpectedEOF, "reading request")
	if got := CodeOf(wrapped); got != BadRequest {
		t.Errorf("Wrap code = %s", got)
	}
	if !strings.Contains(wrapped.Error(), "reading request") {
		t.Errorf("Wrap message = %q", wrapped.Error())
	}

	if Wrap(NotFound, nil, "x") != nil {
		t.Error("Wrap(nil) != nil")
	}
}

func TestIs(t *testing.T) {
	t.Parallel()

	err := New(ForbiddenPath, "outside media root")
	if !Is(err, ForbiddenPath) {
		t.Error("Is missed matching code")
	}
	if Is(err, NotFound) {
		t.Error("Is matched wrong code")
	}
	if Is(nil, Internal) {
		t.Error("Is(nil) = true")
	}
}
