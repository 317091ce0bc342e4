package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatstream/cmd/chatstream/cmds"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd, err := cmds.NewRootCommand()
	cobra.CheckErr(err)
	err = rootCmd.ExecuteContext(ctx)
	stop()
	cobra.CheckErr(err)
}
