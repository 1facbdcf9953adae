package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// ErrNotInteractive is returned when a question needs an answer but stdin is
// not a terminal and answers were not pre-approved.
var ErrNotInteractive = errors.New("prompt requires an interactive terminal (use --yes to skip confirmations)")

// Console reads answers from an input stream and writes questions to an
// output stream.
type Console struct {
	mu          sync.Mutex
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	assumeYes   bool
}

// Option customises a Console.
type Option func(*Console)

// WithIO replaces stdin/stdout. Consoles built this way are treated as
// interactive.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(c *Console) {
		c.in = bufio.NewReader(in)
		c.out = out
		c.interactive = true
	}
}

// WithAssumeYes answers every confirmation with yes without reading input.
func WithAssumeYes(yes bool) Option {
	return func(c *Console) { c.assumeYes = yes }
}

// New returns a console on stdin/stdout.
func New(opts ...Option) *Console {
	c := &Console{
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stdout,
		interactive: isTerminal(os.Stdin),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AskPath asks question until a non-empty answer is given and returns it as
// an absolute, cleaned path. Surrounding quotes from drag-and-drop are removed.
func (c *Console) AskPath(question string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.interactive {
		return "", ErrNotInteractive
	}
	for {
		answer, err := c.ask(question)
		if err != nil {
			return "", err
		}
		answer = strings.Trim(answer, `"'`)
		if answer == "" {
			continue
		}
		abs, err := filepath.Abs(answer)
		if err != nil {
			return "", fmt.Errorf("resolve path %q: %w", answer, err)
		}
		return abs, nil
	}
}

// Confirm asks a yes/no question. y, yes, n and no are accepted in any case;
// anything else repeats the question.
func (c *Console) Confirm(question string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.assumeYes {
		return true, nil
	}
	if !c.interactive {
		return false, ErrNotInteractive
	}
	for {
		answer, err := c.ask(question + " [y/n]")
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(c.out, "Please answer y or n.")
	}
}

func (c *Console) ask(question string) (string, error) {
	fmt.Fprintf(c.out, "%s ", strings.TrimSpace(question))
	line, err := c.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && strings.TrimSpace(line) != "" {
			return strings.TrimSpace(line), nil
		}
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read answer: %w", io.ErrUnexpectedEOF)
		}
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func isTerminal(file *os.File) bool {
	if file == nil {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
