// Package logging re-initialises the global zerolog logger once the log
// flags that clay registers on the root command have been parsed.
package logging

import (
	"os"
	"path/filepath"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// AnnotationLogToFile marks commands that own the terminal.
	AnnotationLogToFile = "chatstream/log-to-file"

	KeyLogFile = "log-file"
)

// InitLogger replaces the global logger from the viper log settings. Commands
// annotated with AnnotationLogToFile log to DefaultFile unless a log file was
// configured.
func InitLogger(cmd *cobra.Command, appName string) error {
	if file := LogFile(cmd, viper.GetString(KeyLogFile), appName); file != "" {
		viper.Set(KeyLogFile, file)
	}
	if err := clay.InitLogger(); err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	log.Debug().
		Str("command", cmd.Name()).
		Str("log_file", viper.GetString(KeyLogFile)).
		Msg("logger initialized")
	return nil
}

// LogFile returns where cmd should log: the configured file, the default
// file for terminal-owning commands, or "" for stderr.
func LogFile(cmd *cobra.Command, configured, appName string) string {
	if configured != "" {
		return configured
	}
	if cmd.Annotations[AnnotationLogToFile] == "true" {
		return DefaultFile(appName)
	}
	return ""
}

func DefaultFile(appName string) string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, appName, appName+".log")
}
