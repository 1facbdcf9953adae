package command

import (
	"strings"
	"time"
)

// Invocation describes one external program call.
type Invocation struct {
	Program string
	Args    []string
	// Dir is the working directory; empty means the current directory.
	Dir string
	// Outputs lists files the program must create for the call to count as a
	// success. A trailing separator marks a directory.
	Outputs []string
}

// New builds an invocation for program with args.
func New(program string, args ...string) Invocation {
	return Invocation{Program: program, Args: args}
}

// In returns a copy of the invocation running in dir.
func (inv Invocation) In(dir string) Invocation {
	inv.Dir = dir
	return inv
}

// Expect returns a copy of the invocation that must produce outputs.
func (inv Invocation) Expect(outputs ...string) Invocation {
	inv.Outputs = append(append([]string(nil), inv.Outputs...), outputs...)
	return inv
}

// String renders the invocation shell-quoted, for logs only.
func (inv Invocation) String() string {
	parts := make([]string, 0, len(inv.Args)+1)
	parts = append(parts, quote(inv.Program))
	for _, arg := range inv.Args {
		parts = append(parts, quote(arg))
	}
	return strings.Join(parts, " ")
}

func quote(arg string) string {
	if arg == "" {
		return "''"
	}
	if !strings.ContainsAny(arg, " \t\n'\"\\$`*?[]{}()<>|&;#~!") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

// Result captures what an executed program printed.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}
