package status

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestCodeOf(t *testing.T) {
	if got := CodeOf(nil); got != CodeOK {
		t.Fatalf("expected OK, got %v", got)
	}
	if got := CodeOf(NotFound("tablet %s", "t1")); got != CodeNotFound {
		t.Fatalf("expected NotFound, got %v", got)
	}
	if got := CodeOf(io.ErrUnexpectedEOF); got != CodeIOError {
		t.Fatalf("expected IOError for plain error, got %v", got)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := io.ErrClosedPipe
	err := Wrap(CodeIOError, cause, "flushing consensus meta")
	if !errors.Is(err, cause) {
		t.Fatalf("wrapped status should match its cause")
	}
	if CodeOf(err) != CodeIOError {
		t.Fatalf("expected IOError, got %v", CodeOf(err))
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", Corruption("bad schema"))
	if !IsCorruption(err) {
		t.Fatalf("expected corruption through wrapping")
	}
	if !errors.Is(err, Corruption("anything")) {
		t.Fatalf("errors.Is should compare by code")
	}
	if errors.Is(err, NotFound("anything")) {
		t.Fatalf("different codes must not match")
	}
}

func TestMessage(t *testing.T) {
	err := ServiceUnavailable("buffer full: %d bytes", 4096)
	if err.Message() != "buffer full: 4096 bytes" {
		t.Fatalf("unexpected message %q", err.Message())
	}
}
