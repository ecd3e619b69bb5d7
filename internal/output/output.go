// Package output renders CLI results: a machine-readable JSON
// envelope for scripts and agents, and icon-prefixed lines for
// humans. The envelope's key order is fixed (success, payload, meta)
// so stream consumers can dispatch on the first bytes.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pampax/pampax/internal/errors"
)

// Meta trails every envelope.
type Meta struct {
	Timestamp  time.Time `json:"timestamp"`
	Command    string    `json:"command"`
	DurationMS int64     `json:"duration_ms"`
	Mode       string    `json:"mode"`
}

// Envelope is the uniform JSON reply shape. Field order here is the
// wire order.
type Envelope struct {
	Success bool `json:"success"`
	Payload any  `json:"payload"`
	Meta    Meta `json:"meta"`
}

// ErrorPayload is the payload of a failed envelope.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewEnvelope builds a success envelope.
func NewEnvelope(command, mode string, payload any, start time.Time) Envelope {
	return Envelope{
		Success: true,
		Payload: payload,
		Meta: Meta{
			Timestamp:  time.Now().UTC(),
			Command:    command,
			DurationMS: time.Since(start).Milliseconds(),
			Mode:       mode,
		},
	}
}

// NewErrorEnvelope builds a failure envelope carrying the error kind
// so callers can branch without parsing messages.
func NewErrorEnvelope(command, mode string, err error, start time.Time) Envelope {
	env := NewEnvelope(command, mode, ErrorPayload{
		Kind:    errors.KindOf(err).String(),
		Message: err.Error(),
	}, start)
	env.Success = false
	return env
}

// EmitJSON writes the envelope as a single line.
func EmitJSON(w io.Writer, env Envelope) error {
	enc := json.NewEncoder(w)
	return enc.Encode(env)
}

// Writer prints human-readable lines.
type Writer struct {
	out io.Writer
}

// New wraps an io.Writer for human output.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints one icon-prefixed line. Write errors on console
// output are ignored.
func (w *Writer) Status(icon, msg string) {
	if icon == "" {
		icon = "  "
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
}

// Successf prints a checkmarked line.
func (w *Writer) Successf(format string, args ...any) {
	w.Status("✓", fmt.Sprintf(format, args...))
}

// Warningf prints a warning line.
func (w *Writer) Warningf(format string, args ...any) {
	w.Status("!", fmt.Sprintf(format, args...))
}

// Errorf prints an error line.
func (w *Writer) Errorf(format string, args ...any) {
	w.Status("✗", fmt.Sprintf(format, args...))
}

// Field prints an aligned name/value pair.
func (w *Writer) Field(name string, value any) {
	_, _ = fmt.Fprintf(w.out, "  %-14s %v\n", name, value)
}

// Code prints an indented block.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
