package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"agora/internal/configs"
	"agora/internal/pkg/auth/jwt"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	for _, key := range []string{"ENVIRONMENT", "PORT", "JWT_SECRET", "JWT_ISSUER", "DATABASE_URL"} {
		t.Setenv(key, "")
	}

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	out, err := run(t, "token", "--user", "alice", "--role", "notifier")
	require.NoError(t, err)

	identity, err := jwt.NewVerifier(configs.DevJWTSecret, jwt.TokenIssuer).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.ID)
	assert.Equal(t, "alice", identity.Nickname)
	assert.True(t, identity.HasRole("notifier"))
}

func TestTokenCommand_RequiresUser(t *testing.T) {
	_, err := run(t, "token")
	assert.Error(t, err)
}

func TestConfigCommand_RedactsSecrets(t *testing.T) {
	out, err := run(t, "config")
	require.NoError(t, err)

	var cfg configs.AppConfig
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, redacted, cfg.JWTSecret)
	assert.Equal(t, configs.DevDatabaseURL, cfg.DatabaseURL)
	assert.NotContains(t, out, configs.DevJWTSecret)
}
