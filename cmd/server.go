package cmd

import (
	"abstream/logger"
	"abstream/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the streaming read path",
	Long:  `Serves master/variant playlists, segments, status, preload and analytics over HTTP.`,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer() {
	d := buildDeps()
	defer d.close()

	srv := server.NewServer(server.Deps{
		Config:     d.cfg,
		DB:         d.gdb,
		Redis:      d.redis,
		Broker:     d.broker,
		Store:      d.store,
		Jobs:       d.jobs,
		Renditions: d.renditions,
		Streams:    d.streams,
	})
	if err := srv.Start(); err != nil {
		logger.Fatal("streaming server terminated", logger.ErrorField(err))
	}
}
