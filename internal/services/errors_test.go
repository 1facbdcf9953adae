package services_test

import (
	"errors"
	"strings"
	"testing"

	"tractkit/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "downsample", "scil_remove_similar_streamlines", "exit status 1", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"downsample", "scil_remove_similar_streamlines", "exit status 1"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestKindMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{services.Wrap(services.ErrExternalTool, "s", "op", "", nil), "external_tool"},
		{services.Wrap(services.ErrValidation, "s", "op", "", nil), "validation"},
		{services.Wrap(services.ErrConfiguration, "s", "op", "", nil), "configuration"},
		{services.Wrap(services.ErrNotFound, "s", "op", "", nil), "not_found"},
		{services.Wrap(services.ErrUserAborted, "s", "op", "", nil), "user_aborted"},
		{errors.New("plain"), "transient"},
	}
	for _, tc := range cases {
		if got := services.Kind(tc.err); got != tc.want {
			t.Fatalf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
		if tc.err != nil && services.Hint(tc.err) == "" {
			t.Fatalf("expected hint for %v", tc.err)
		}
	}
}
