package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/enescakir/emoji"
	"github.com/spf13/cobra"

	"github.com/ryoha000/proctail/pkg/config"
	"github.com/ryoha000/proctail/pkg/logging"
	"github.com/ryoha000/proctail/pkg/orchestrator"
	"github.com/ryoha000/proctail/pkg/ps"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the ProcTail daemon and block until it is stopped",
		RunE:  runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := logging.Configure(logging.Config{}); err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}

	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond)
	s.Prefix = fmt.Sprintf("%s starting ProcTail ", emoji.Eyes)
	s.Start()

	o := orchestrator.New(cfg, ps.NewWindowsResolver())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := o.Start(ctx); err != nil {
		s.Stop()
		return fmt.Errorf("starting daemon: %w", err)
	}
	s.Stop()
	fmt.Printf("%s ProcTail is watching on pipe %q\n", emoji.CheckMarkButton, cfg.PipeName)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-o.Done():
		// an IPC Shutdown request has already stopped the orchestrator.
		fmt.Printf("%s stopped by a Shutdown request\n", emoji.Wave)
		return nil
	}

	fmt.Printf("%s shutting down\n", emoji.Wave)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	return o.Stop(stopCtx)
}
