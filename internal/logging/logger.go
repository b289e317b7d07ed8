// Package logging is the structured logger shared by the server, its
// services and the rate limiter. The production implementation wraps
// log/slog and redacts secret-looking attributes.
package logging

import "context"

// Logger is a context-aware, structured logger.
//
// Args are alternating keys and values:
//
//	log.Info(ctx, "mfa resend requested", "ip", ip)
type Logger interface {
	// Info logs an informational message.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs a warning message for unusual but non-fatal conditions.
	// Security events (rate limit denials, suspected clones) go here.
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs an error message for failures.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that adds args to every record.
	With(args ...any) Logger
}

type nop struct{}

func (nop) Info(context.Context, string, ...any)  {}
func (nop) Warn(context.Context, string, ...any)  {}
func (nop) Error(context.Context, string, ...any) {}
func (n nop) With(...any) Logger                  { return n }

// Nop returns a Logger that drops everything.
func Nop() Logger { return nop{} }
