package cmds

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/chatstream/pkg/config"
	"github.com/go-go-golems/chatstream/pkg/logging"
)

// app carries what the root pre-run resolved to the subcommands.
type app struct {
	settings *config.Settings
}

func NewRootCommand() (*cobra.Command, error) {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           config.AppName,
		Short:         "chatstream streams chat replies from an inference service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// reinitialize the logger now that --log-level and co are parsed
			return a.init(cmd)
		},
	}
	config.AddFlags(rootCmd.PersistentFlags())

	if err := clay.InitViper(config.AppName, rootCmd); err != nil {
		return nil, errors.Wrap(err, "failed to initialize viper")
	}
	if err := config.BindFlags(viper.GetViper(), rootCmd.PersistentFlags()); err != nil {
		return nil, err
	}
	if err := clay.InitLogger(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize logger")
	}

	rootCmd.AddCommand(
		newChatCommand(a),
		newAskCommand(a),
		newMockServerCommand(a),
		newConfigCommand(a),
	)
	return rootCmd, nil
}

func (a *app) init(cmd *cobra.Command) error {
	if err := logging.InitLogger(cmd, config.AppName); err != nil {
		return err
	}
	s, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	a.settings = s
	log.Debug().
		Str("command", cmd.Name()).
		Str("config_file", viper.ConfigFileUsed()).
		Str("endpoint", s.Endpoint).
		Str("mode", s.Mode).
		Msg("settings resolved")
	return nil
}
