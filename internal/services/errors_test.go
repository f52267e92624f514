package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"framepipe/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExecution, "extract", "ffmpeg", "decode failed", base)
	if !errors.Is(err, services.ErrExecution) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"extract", "ffmpeg", "decode failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.Kind
	}{
		{"nil", nil, ""},
		{"plain", errors.New("x"), services.KindExecution},
		{"invalid", services.Wrap(services.ErrInvalidInput, "analyze", "", "bad", nil), services.KindInvalidInput},
		{"not found", services.Wrap(services.ErrNotFound, "analyze", "stat", "missing", nil), services.KindNotFound},
		{"fmt wrapped", fmt.Errorf("outer: %w", services.Wrap(services.ErrTimeout, "", "", "", nil)), services.KindTimeout},
		{"deadline", context.DeadlineExceeded, services.KindTimeout},
		{"canceled", fmt.Errorf("stop: %w", context.Canceled), services.KindCancelled},
		{"outermost wins", services.Wrap(services.ErrTimeout, "process", "", "", services.Wrap(services.ErrNotFound, "", "", "", nil)), services.KindTimeout},
	}
	for _, tc := range cases {
		if got := services.KindOf(tc.err); got != tc.want {
			t.Fatalf("%s: KindOf = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestExhaustedKeepsRootKind(t *testing.T) {
	last := services.Wrap(services.ErrTimeout, "extract", "dispatch", "deadline exceeded", context.DeadlineExceeded)
	err := services.Exhausted("extract", 3, last)
	if kind := services.KindOf(err); kind != services.KindRetriesExhausted {
		t.Fatalf("expected retries_exhausted, got %q", kind)
	}
	if root := services.RootKind(err); root != services.KindTimeout {
		t.Fatalf("expected root timeout, got %q", root)
	}
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected last failure to stay reachable")
	}
}

func TestRootKindOnlyLooksBeneathExhausted(t *testing.T) {
	timedOut := services.Exhausted("extract", 2,
		services.Wrap(services.ErrTimeout, "extract", "dispatch", "deadline exceeded", nil))
	cancelled := services.Wrap(services.ErrCancelled, "extract", "drive", "cancelled by request", timedOut)
	if kind, root := services.KindOf(cancelled), services.RootKind(cancelled); kind != services.KindCancelled || root != services.KindCancelled {
		t.Fatalf("expected cancelled/cancelled, got %s/%s", kind, root)
	}

	execErr := services.Wrap(services.ErrExecution, "process", "filter", "ffmpeg failed",
		services.Wrap(services.ErrNotFound, "process", "open frame", "frame missing", nil))
	if root := services.RootKind(execErr); root != services.KindExecution {
		t.Fatalf("expected execution_error root, got %s", root)
	}

	nested := services.Exhausted("process", 3, execErr)
	if root := services.RootKind(nested); root != services.KindExecution {
		t.Fatalf("expected first marker beneath exhausted, got %s", root)
	}

	plain := services.Exhausted("process", 3, errors.New("boom"))
	if root := services.RootKind(plain); root != services.KindExecution {
		t.Fatalf("expected unclassified cause to be execution_error, got %s", root)
	}
	if root := services.RootKind(nil); root != "" {
		t.Fatalf("expected no root for nil, got %s", root)
	}
}

func TestDetails(t *testing.T) {
	err := services.Wrap(services.ErrNotFound, "analyze", "stat source", "input missing", errors.New("no such file"))
	details := services.Details(err)
	if details.Kind != services.KindNotFound || details.RootKind != services.KindNotFound {
		t.Fatalf("unexpected kinds: %+v", details)
	}
	if details.Stage != "analyze" || details.Operation != "stat source" || details.Message != "input missing" {
		t.Fatalf("unexpected details: %+v", details)
	}
	if details.Cause != "no such file" {
		t.Fatalf("unexpected cause %q", details.Cause)
	}
	if empty := services.Details(nil); empty.Kind != "" {
		t.Fatalf("expected empty details for nil error, got %+v", empty)
	}
}

func TestParseKind(t *testing.T) {
	if services.ParseKind(" NOT_FOUND ") != services.KindNotFound {
		t.Fatal("expected not_found")
	}
	if services.ParseKind("bogus") != services.KindExecution {
		t.Fatal("expected unknown kinds to map to execution_error")
	}
	if services.KindCancelled.Marker() != services.ErrCancelled {
		t.Fatal("expected cancelled marker")
	}
}
