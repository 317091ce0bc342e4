package cmds

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatstream/pkg/mockserver"
)

type mockServerOptions struct {
	addr       string
	apiKey     string
	failEvery  int
	chunkDelay time.Duration
}

func newMockServerCommand(_ *app) *cobra.Command {
	opts := mockServerOptions{}

	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Serve a scripted echo inference service for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMockServer(cmd.Context(), opts, nil)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8000", "listen address")
	cmd.Flags().StringVar(&opts.apiKey, "require-api-key", "", "reject chat requests without this X-API-Key")
	cmd.Flags().IntVar(&opts.failEvery, "fail-every", 0, "fail every n-th request with a 500")
	cmd.Flags().DurationVar(&opts.chunkDelay, "chunk-delay", 50*time.Millisecond, "delay between streamed chunks")
	return cmd
}

// runMockServer serves until ctx is done. ready, when set, receives the
// bound address once the listener is open.
func runMockServer(ctx context.Context, opts mockServerOptions, ready chan<- string) error {
	s := mockserver.New(
		mockserver.WithAPIKey(opts.apiKey),
		mockserver.WithFailEvery(opts.failEvery),
		mockserver.WithChunkDelay(opts.chunkDelay),
	)

	ln, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", opts.addr)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, groupCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Str("path", mockserver.ChatPath).Msg("mock inference service listening")
		if ready != nil {
			ready <- ln.Addr().String()
		}
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "mock server failed")
		}
		return nil
	})
	eg.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info().Msg("shutting down mock inference service")
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}
