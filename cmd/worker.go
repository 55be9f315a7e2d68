package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"abstream/logger"
	"abstream/worker"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the transcoding pipeline workers",
	Long: `Consumes the intake and deletion topics and processes the per-bitrate
and master-playlist work queues.`,
	Run: func(cmd *cobra.Command, args []string) {
		runWorker()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker() {
	d := buildDeps()
	defer d.close()

	runner, err := worker.NewRunner(worker.Deps{
		Config:     d.cfg,
		Broker:     d.broker,
		Redis:      d.redis,
		Store:      d.store,
		Jobs:       d.jobs,
		Renditions: d.renditions,
		Streams:    d.streams,
	})
	if err != nil {
		logger.Fatal("worker setup failed", logger.ErrorField(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runner.Start(ctx); err != nil {
		logger.Fatal("worker start failed", logger.ErrorField(err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR2)
	<-stop

	logger.Info("shutdown signal received, draining workers")
	cancel()
	runner.Stop()
}
