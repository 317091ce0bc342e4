package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/session"
)

// ErrAttemptFailed is returned by ask when the last attempt ended in error.
var ErrAttemptFailed = errors.New("chat attempt failed")

type askOptions struct {
	printTranscript string
	retryPrompt     bool
}

func newAskCommand(a *app) *cobra.Command {
	opts := askOptions{}

	cmd := &cobra.Command{
		Use:   "ask [message...]",
		Short: "Send one message and stream the reply to stdout",
		Long: "Send one message and stream the reply to stdout. Without arguments " +
			"the message is read from stdin. On failure, an interactive terminal " +
			"is offered an explicit retry.",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "" && !isatty.IsTerminal(os.Stdin.Fd()) {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.Wrap(err, "failed to read message from stdin")
				}
				text = string(b)
			}
			if opts.retryPrompt && !isatty.IsTerminal(os.Stdin.Fd()) {
				opts.retryPrompt = false
			}

			controller, _, err := a.settings.NewController()
			if err != nil {
				return err
			}
			var prompt retryPrompter
			if opts.retryPrompt {
				prompt = askRetry
			}
			return runAsk(cmd.Context(), controller, text, opts, prompt, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.printTranscript, "print-transcript", "", "print the transcript afterwards (yaml or json)")
	cmd.Flags().BoolVar(&opts.retryPrompt, "retry-prompt", true, "offer a retry when the attempt fails and stdin is a terminal")
	return cmd
}

// retryPrompter asks whether to retry after a failure.
type retryPrompter func(lastError string) (bool, error)

func runAsk(
	ctx context.Context,
	controller *session.Controller,
	text string,
	opts askOptions,
	prompt retryPrompter,
	out, errOut io.Writer,
) error {
	switch opts.printTranscript {
	case "", "yaml", "json":
	default:
		return errors.Errorf("unknown transcript format %q", opts.printTranscript)
	}

	unsubscribe := controller.Subscribe(func(e session.Event) {
		switch e.Type {
		case session.EventFragment:
			_, _ = fmt.Fprint(out, e.Delta)
		case session.EventAttemptStarted:
			if e.Retry {
				_, _ = fmt.Fprintln(out)
			}
		}
	})
	defer unsubscribe()

	if err := controller.Send(ctx, text); err != nil {
		return err
	}

	for controller.Phase() == session.PhaseError {
		st := controller.Snapshot()
		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintf(errOut, "error: %s\n", st.LastError)
		if st.RequestID != "" {
			_, _ = fmt.Fprintf(errOut, "request id: %s\n", st.RequestID)
		}
		if prompt == nil {
			break
		}
		again, err := prompt(st.LastError)
		if err != nil {
			return errors.Wrap(err, "failed to read retry answer")
		}
		if !again {
			break
		}
		if err := controller.Retry(ctx); err != nil {
			return err
		}
	}

	if controller.Phase() != session.PhaseError {
		_, _ = fmt.Fprintln(out)
	}
	if opts.printTranscript != "" {
		if err := printTranscript(out, opts.printTranscript, controller.Snapshot()); err != nil {
			return err
		}
	}
	if controller.Phase() == session.PhaseError {
		return ErrAttemptFailed
	}
	return nil
}

func askRetry(string) (bool, error) {
	ui := &input.UI{
		Writer: os.Stderr,
		Reader: os.Stdin,
	}
	answer, err := ui.Ask("Retry? [y/n]", &input.Options{
		Default:  "y",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch answer {
			case "y", "Y", "n", "N":
				return nil
			default:
				return errors.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, err
	}
	return answer == "y" || answer == "Y", nil
}

type transcript struct {
	SessionID string         `json:"session_id" yaml:"session_id"`
	RequestID string         `json:"request_id,omitempty" yaml:"request_id,omitempty"`
	Error     string         `json:"error,omitempty" yaml:"error,omitempty"`
	Messages  []chat.Message `json:"messages" yaml:"messages"`
}

func printTranscript(w io.Writer, format string, st session.State) error {
	t := transcript{
		SessionID: st.SessionID,
		RequestID: st.RequestID,
		Error:     st.LastError,
		Messages:  st.Messages,
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(t), "failed to encode transcript")
	default:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(t); err != nil {
			return errors.Wrap(err, "failed to encode transcript")
		}
		return errors.Wrap(enc.Close(), "failed to encode transcript")
	}
}
