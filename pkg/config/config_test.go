package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatstream/pkg/session"
)

// newViper parses args into a fresh flag set and binds it. configFile, when
// set, plays the part of the file clay.InitViper reads.
func newViper(t *testing.T, configFile string, args ...string) *viper.Viper {
	t.Helper()
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	AddFlags(cmd.PersistentFlags())
	require.NoError(t, cmd.ParseFlags(args))

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
		require.NoError(t, v.ReadInConfig())
	}
	require.NoError(t, BindFlags(v, cmd.PersistentFlags()))
	return v
}

func load(t *testing.T, args ...string) (*Settings, error) {
	t.Helper()
	return Load(newViper(t, "", args...))
}

func TestDefaults(t *testing.T) {
	s, err := load(t)
	require.NoError(t, err)
	require.Equal(t, DefaultEndpoint, s.Endpoint)
	require.Equal(t, "X-API-Key", s.APIKeyHeader)
	require.Equal(t, "X-Request-ID", s.RequestIDHeader)
	require.Equal(t, "stream", s.Mode)
	require.Zero(t, s.Timeout)
}

func TestFlagsOverrideEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"endpoint: http://file:1/api/v1/chat\nmode: complete\ntimeout: 5s\napi-key: from-file\n",
	), 0o600))
	t.Setenv("CHATSTREAM_API_KEY", "from-env")

	s, err := Load(newViper(t, path, "--endpoint", "http://flag:2/chat"))
	require.NoError(t, err)
	require.Equal(t, "http://flag:2/chat", s.Endpoint)
	require.Equal(t, "from-env", s.APIKey)
	require.Equal(t, "complete", s.Mode)
	require.Equal(t, 5*time.Second, s.Timeout)
}

func TestHeadersFlag(t *testing.T) {
	s, err := load(t, "--headers", "Authorization=Bearer x,X-Tenant=acme")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"Authorization": "Bearer x", "X-Tenant": "acme"}, s.Headers)
	require.Len(t, s.ClientOptions(), 5)
}

func TestEnvUsesDashToUnderscore(t *testing.T) {
	t.Setenv("CHATSTREAM_REQUEST_ID_HEADER", "X-Correlation-ID")
	t.Setenv("CHATSTREAM_SESSION_ID", "from-env")

	s, err := load(t)
	require.NoError(t, err)
	require.Equal(t, "X-Correlation-ID", s.RequestIDHeader)
	require.Equal(t, "from-env", s.SessionID)
}

func TestValidate(t *testing.T) {
	_, err := load(t, "--endpoint", "localhost:8000")
	require.Error(t, err)

	_, err = load(t, "--mode", "batch")
	require.Error(t, err)

	_, err = load(t, "--timeout=-1s")
	require.Error(t, err)
}

func TestNewControllerUsesSettings(t *testing.T) {
	s, err := load(t, "--mode", "complete", "--session-id", "resume-me")
	require.NoError(t, err)

	c, client, err := s.NewController()
	require.NoError(t, err)
	require.Equal(t, DefaultEndpoint, client.Endpoint())
	require.Equal(t, "resume-me", c.SessionID())
	require.Equal(t, session.PhaseIdle, c.Phase())
}
