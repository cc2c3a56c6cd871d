// Package secret resolves credentials from an explicit value, an environment
// variable, a file, or an interactive prompt, in that order. Every candidate
// is trimmed; a blank candidate falls through to the next source.
package secret

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNotFound is returned when no source yields a non-blank value.
var ErrNotFound = errors.New("secret: no value found")

// Source lists where a secret may come from.
type Source struct {
	// Value is a literal secret, usually from a flag.
	Value string
	// Env names the environment variable to read.
	Env string
	// File is a path whose trimmed contents are the secret.
	File string
	// PromptLabel, when set, enables an interactive prompt on a terminal.
	PromptLabel string
}

// Prompter reads a secret interactively. The default reads from the
// controlling terminal without echo.
type Prompter interface {
	Prompt(label string) (string, bool, error)
}

// Resolver resolves Sources.
type Resolver struct {
	Getenv   func(string) string
	ReadFile func(string) ([]byte, error)
	Prompter Prompter
}

// Default uses the process environment, the filesystem and stdin.
func Default() *Resolver {
	return &Resolver{
		Getenv:   os.Getenv,
		ReadFile: os.ReadFile,
		Prompter: TerminalPrompter{In: os.Stdin, Out: os.Stderr},
	}
}

// Resolve is shorthand for Default().Resolve(src).
func Resolve(src Source) (string, error) {
	return Default().Resolve(src)
}

// Resolve returns the first non-blank value from src. A file that cannot be
// read is an error rather than a fall-through.
func (r *Resolver) Resolve(src Source) (string, error) {
	if v := strings.TrimSpace(src.Value); v != "" {
		return v, nil
	}

	if env := strings.TrimSpace(src.Env); env != "" && r.Getenv != nil {
		if v := strings.TrimSpace(r.Getenv(env)); v != "" {
			return v, nil
		}
	}

	if path := strings.TrimSpace(src.File); path != "" {
		readFile := r.ReadFile
		if readFile == nil {
			readFile = os.ReadFile
		}
		data, err := readFile(path)
		if err != nil {
			return "", fmt.Errorf("secret: read %s: %w", path, err)
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	}

	if src.PromptLabel != "" && r.Prompter != nil {
		v, ok, err := r.Prompter.Prompt(src.PromptLabel)
		if err != nil {
			return "", fmt.Errorf("secret: prompt: %w", err)
		}
		if v = strings.TrimSpace(v); ok && v != "" {
			return v, nil
		}
	}

	return "", ErrNotFound
}

// TerminalPrompter prompts on Out and reads one line from In. Input is read
// without echo when In is a terminal; otherwise the prompt is skipped.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// Prompt implements Prompter. ok is false when In is not a terminal.
func (p TerminalPrompter) Prompt(label string) (string, bool, error) {
	if p.In == nil {
		return "", false, nil
	}
	fd := int(p.In.Fd())
	if !term.IsTerminal(fd) {
		return "", false, nil
	}

	if p.Out != nil {
		fmt.Fprint(p.Out, label)
	}
	b, err := term.ReadPassword(fd)
	if p.Out != nil {
		fmt.Fprintln(p.Out)
	}
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

// ReaderPrompter reads one line from R regardless of terminal state. Used
// for piped input and tests.
type ReaderPrompter struct {
	R   io.Reader
	Out io.Writer
}

// Prompt implements Prompter.
func (p ReaderPrompter) Prompt(label string) (string, bool, error) {
	if p.Out != nil {
		fmt.Fprint(p.Out, label)
	}
	line, err := bufio.NewReader(p.R).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", false, err
	}
	return line, true, nil
}
