package logging

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLogFile(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/cache")
	plain := &cobra.Command{Use: "ask"}
	tui := &cobra.Command{Use: "chat", Annotations: map[string]string{AnnotationLogToFile: "true"}}

	require.Equal(t, "", LogFile(plain, "", "chatstream"))
	require.Equal(t, "/tmp/x.log", LogFile(plain, "/tmp/x.log", "chatstream"))
	require.Equal(t, "/tmp/x.log", LogFile(tui, "/tmp/x.log", "chatstream"))
	require.Equal(t, filepath.Join("/cache", "chatstream", "chatstream.log"), LogFile(tui, "", "chatstream"))
}

func TestInitLoggerSendsTerminalCommandsToFile(t *testing.T) {
	cache := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", cache)

	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		viper.Reset()
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})
	viper.Set("log-level", "debug")
	viper.Set("log-format", "text")

	cmd := &cobra.Command{Use: "chat", Annotations: map[string]string{AnnotationLogToFile: "true"}}
	require.NoError(t, InitLogger(cmd, "chatstream"))
	require.Equal(t, filepath.Join(cache, "chatstream", "chatstream.log"), viper.GetString(KeyLogFile))
}
