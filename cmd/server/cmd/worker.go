package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calendar2image/c2i-service/internal/config"
	"github.com/calendar2image/c2i-service/internal/service"
	"github.com/calendar2image/c2i-service/internal/worker"
	"github.com/calendar2image/c2i-service/pkg/logger"
)

// workerCmd is the isolated generation entrypoint: worker.ExecSpawner
// re-invokes this binary with this subcommand, wiring stdin/stdout as the
// JSON-lines channel worker.Dispatcher expects. It is hidden from --help
// since it is never meant to be run directly by an operator.
var workerCmd = &cobra.Command{
	Use:    "internal-worker",
	Hidden: true,
	RunE:   runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: "stderr", // stdout is reserved for the Response JSON line
	})

	svc := service.New(cfg, "", log)
	pl := svc.NewPipeline()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Worker.Timeout)
	defer cancel()

	return worker.RunChild(ctx, os.Stdin, os.Stdout, pl)
}
