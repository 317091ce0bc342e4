package cmds

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatstream/pkg/events"
	"github.com/go-go-golems/chatstream/pkg/logging"
	"github.com/go-go-golems/chatstream/pkg/ui"
)

func newChatCommand(a *app) *cobra.Command {
	var noMarkdown bool

	cmd := &cobra.Command{
		Use:         "chat",
		Short:       "Open an interactive chat in the terminal",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{logging.AnnotationLogToFile: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd.Context(), !noMarkdown)
		},
	}
	cmd.Flags().BoolVar(&noMarkdown, "no-markdown", false, "render replies as plain text")
	return cmd
}

func (a *app) runChat(ctx context.Context, markdown bool) error {
	controller, _, err := a.settings.NewController()
	if err != nil {
		return err
	}

	bus, err := events.NewBus()
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Debug().Err(err).Msg("closing event bus")
		}
	}()
	unsubscribe := controller.Subscribe(bus.Sink())
	defer unsubscribe()

	eg, groupCtx := errgroup.WithContext(ctx)
	groupCtx, cancel := context.WithCancel(groupCtx)
	defer cancel()

	options := []tea.ProgramOption{tea.WithContext(groupCtx)}
	if isatty.IsTerminal(os.Stdout.Fd()) {
		options = append(options, tea.WithAltScreen())
	} else {
		options = append(options, tea.WithOutput(os.Stderr))
	}
	p := tea.NewProgram(ui.NewModel(groupCtx, controller, ui.WithMarkdown(markdown)), options...)
	bus.AddHandler("ui", ui.ForwardFunc(p))

	eg.Go(func() error {
		defer cancel()
		return bus.Run(groupCtx)
	})

	eg.Go(func() error {
		defer cancel()
		select {
		case <-bus.Running():
		case <-groupCtx.Done():
			return nil
		}

		log.Debug().Str("component", "chat").Msg("starting bubbletea program")
		_, runErr := p.Run()
		log.Debug().Err(runErr).Str("component", "chat").Msg("bubbletea program finished")
		if errors.Is(runErr, tea.ErrProgramKilled) && groupCtx.Err() != nil {
			return nil
		}
		return runErr
	})

	err = eg.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}
