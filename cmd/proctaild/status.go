package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ryoha000/proctail/pkg/config"
	"github.com/ryoha000/proctail/pkg/ipc"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the running daemon's status and watch targets",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	client := ipc.NewClient(func() (net.Conn, error) {
		return ipc.DialPipe(cfg.PipeName, 5*time.Second)
	}, 5*time.Second)

	status, err := client.Status()
	if err != nil {
		return err
	}
	if !status.Success {
		return fmt.Errorf("daemon reported an error: %s", status.ErrorMessage)
	}

	fmt.Fprintf(os.Stdout, "running: %v  watched targets: %d  total events: %d\n",
		status.Status.Running, status.Status.WatchedTargets, status.Status.TotalEvents)

	targets, err := client.WatchTargets()
	if err != nil {
		return err
	}
	if !targets.Success {
		return fmt.Errorf("daemon reported an error: %s", targets.ErrorMessage)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"PID", "Tag", "Process", "Child", "Registered At"})
	for _, w := range targets.Targets {
		t.AppendRow(table.Row{w.ProcessId, w.TagName, w.ProcessName, w.IsChild, w.RegisteredAt})
	}
	t.Render()
	return nil
}
