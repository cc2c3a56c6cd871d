package cli

import (
	"encoding/json"
	"io"

	"github.com/fatih/color"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	warnColor    = color.New(color.FgYellow)
	headerColor  = color.New(color.FgWhite, color.Bold)
)

// printer writes user-facing output; logs go through slog instead.
type printer struct {
	out io.Writer
	err io.Writer
}

func (p printer) success(format string, a ...interface{}) {
	successColor.Fprintf(p.out, "✓ "+format+"\n", a...)
}

func (p printer) failure(format string, a ...interface{}) {
	errorColor.Fprintf(p.err, "✗ "+format+"\n", a...)
}

func (p printer) info(format string, a ...interface{}) {
	infoColor.Fprintf(p.out, format+"\n", a...)
}

func (p printer) warn(format string, a ...interface{}) {
	warnColor.Fprintf(p.out, "⚠ "+format+"\n", a...)
}

func (p printer) json(v interface{}) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
