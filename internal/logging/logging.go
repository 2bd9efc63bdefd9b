// Package logging provides the shared no-op logger that subsystems fall
// back to when no logger is injected.
package logging

import (
	"context"
	"log/slog"
)

// Nop returns a logger that discards every record.
func Nop() *slog.Logger {
	return slog.New(nopHandler{})
}

// Or returns log if non-nil, otherwise the no-op logger.
func Or(log *slog.Logger) *slog.Logger {
	if log != nil {
		return log
	}
	return Nop()
}

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }
