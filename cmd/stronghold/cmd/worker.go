package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/veyra/stronghold/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the HTTP expression evaluation worker",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().String("host", "", "listen host")
	workerCmd.Flags().Int("port", 0, "listen port")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.WorkerHost, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.WorkerPort, _ = cmd.Flags().GetInt("port")
	}

	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return worker.NewServer(cfg.WorkerAddr(), log).Run(ctx)
}
