package prompt

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfirmAcceptsAnswers(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"No\n", false},
		{"maybe\n\ny\n", true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		c := New(WithIO(strings.NewReader(tt.input), &out))
		got, err := c.Confirm("Clean clusters now?")
		if err != nil {
			t.Fatalf("%q: %v", tt.input, err)
		}
		if got != tt.want {
			t.Fatalf("%q: got %v want %v", tt.input, got, tt.want)
		}
	}
}

func TestConfirmRepeatsQuestion(t *testing.T) {
	var out bytes.Buffer
	c := New(WithIO(strings.NewReader("perhaps\nn\n"), &out))
	if _, err := c.Confirm("Proceed?"); err != nil {
		t.Fatal(err)
	}
	if strings.Count(out.String(), "Proceed? [y/n]") != 2 {
		t.Fatalf("expected question twice, got %q", out.String())
	}
}

func TestConfirmEOF(t *testing.T) {
	c := New(WithIO(strings.NewReader(""), io.Discard))
	if _, err := c.Confirm("Proceed?"); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}

func TestConfirmAssumeYes(t *testing.T) {
	c := New(WithIO(strings.NewReader(""), io.Discard), WithAssumeYes(true))
	ok, err := c.Confirm("Proceed?")
	if err != nil || !ok {
		t.Fatalf("expected yes, got %v %v", ok, err)
	}
}

func TestNonInteractiveConsole(t *testing.T) {
	c := &Console{}
	if _, err := c.Confirm("Proceed?"); !errors.Is(err, ErrNotInteractive) {
		t.Fatalf("expected ErrNotInteractive, got %v", err)
	}
	if _, err := c.AskPath("Directory?"); !errors.Is(err, ErrNotInteractive) {
		t.Fatalf("expected ErrNotInteractive, got %v", err)
	}
}

func TestAskPathSkipsBlankAndStripsQuotes(t *testing.T) {
	dir := t.TempDir()
	c := New(WithIO(strings.NewReader("\n'"+dir+"/'\n"), io.Discard))
	got, err := c.AskPath("Atlas directory:")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Clean(dir) {
		t.Fatalf("got %q want %q", got, dir)
	}
}
