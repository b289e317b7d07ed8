package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T) (*SlogLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	l := slog.New(h)
	return NewSlogLogger(l), &buf
}

func TestSlogLogger_LevelsAndAttributes(t *testing.T) {
	log, buf := newTestLogger(t)
	ctx := context.Background()

	log.Debug(ctx, "dbg", "purpose", "login")
	log.Info(ctx, "inf", "status", 201)
	log.Warn(ctx, "wrn", "event", "webauthn_clone_suspected")
	log.Error(ctx, "err", "path", "/api/me")
	log.With("module", "http_api").Info(ctx, "child", "request_id", "01J")

	want := []string{
		"level=DEBUG msg=dbg purpose=login",
		"level=INFO msg=inf status=201",
		"level=WARN msg=wrn event=webauthn_clone_suspected",
		"level=ERROR msg=err path=/api/me",
		"level=INFO msg=child module=http_api request_id=01J",
	}
	out := buf.String()
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("missing %q in output:\n%s", w, out)
		}
	}
}

func TestNewJSONLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSONLogger(&buf, slog.LevelInfo)

	log.Info(context.Background(), "login", "email", "a@b.c", "password", "hunter2", "refresh_token", "abc")

	out := buf.String()
	if strings.Contains(out, "hunter2") || strings.Contains(out, `"abc"`) {
		t.Fatalf("secret leaked into log output:\n%s", out)
	}
	if !strings.Contains(out, `"email":"a@b.c"`) {
		t.Fatalf("expected email attribute in output:\n%s", out)
	}
	if !strings.Contains(out, `"password":"[REDACTED]"`) {
		t.Fatalf("expected redaction marker in output:\n%s", out)
	}
}

func TestNewJSONLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSONLogger(&buf, slog.LevelWarn)

	log.Info(context.Background(), "quiet")
	log.Warn(context.Background(), "loud")

	out := buf.String()
	if strings.Contains(out, "quiet") || !strings.Contains(out, "loud") {
		t.Fatalf("unexpected output for warn level:\n%s", out)
	}
}

func TestNop_IsSilentAndChainable(t *testing.T) {
	l := Nop().With("k", "v")
	l.Info(context.Background(), "x")
	l.Warn(context.Background(), "x")
	l.Error(context.Background(), "x")
}
