package flagx

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	cfg := []string{"-c", "-config"}
	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{"separate value", []string{"-c", "conf.json", "-grpc-addr", ":50051"}, cfg, []string{"-c", "conf.json"}},
		{"equals form", []string{"-config=alt.json", "-http-addr", ":8080"}, cfg, []string{"-config=alt.json"}},
		{"order kept", []string{"-config=first.json", "-c", "second.json", "-x", "1"}, cfg, []string{"-config=first.json", "-c", "second.json"}},
		{"unknown ignored", []string{"-x", "1", "--y=2", "positional"}, cfg, []string{}},
		{"trailing flag without value", []string{"-c"}, cfg, []string{"-c"}},
		{"dash token is not a value", []string{"-c", "-config=alt.json"}, cfg, []string{"-c", "-config=alt.json"}},
		{"equals value may start with dash", []string{"-config=--weird.json"}, cfg, []string{"-config=--weird.json"}},
		{"several allowed flags", []string{"-http-addr", ":8080", "-c", "conf.json", "-d", "dsn"}, []string{"-c", "-http-addr"}, []string{"-http-addr", ":8080", "-c", "conf.json"}},
		{"empty", nil, cfg, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FilterArgs(tt.args, tt.allowed)); diff != "" {
				t.Fatalf("FilterArgs() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConfigPath(t *testing.T) {
	assert.Equal(t, "/etc/credkeeper.json", ConfigPath([]string{"-c", "/etc/credkeeper.json"}))
	assert.Equal(t, "/etc/credkeeper.json", ConfigPath([]string{"-http-addr", ":1", "-config=/etc/credkeeper.json"}))
	assert.Equal(t, "b.json", ConfigPath([]string{"-c", "a.json", "-config", "b.json"}))
	assert.Empty(t, ConfigPath([]string{"-x", "1", "-y", "2"}))
}

func TestSubcommand(t *testing.T) {
	cmd, rest := Subcommand([]string{"encrypt", "-mode", "raw", "value"})
	assert.Equal(t, "encrypt", cmd)
	assert.Equal(t, []string{"-mode", "raw", "value"}, rest)

	cmd, rest = Subcommand([]string{"-h"})
	assert.Empty(t, cmd)
	assert.Equal(t, []string{"-h"}, rest)

	cmd, rest = Subcommand(nil)
	assert.Empty(t, cmd)
	assert.Empty(t, rest)
}
