package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"abstream/broker"
	"abstream/config"
	"abstream/model"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	publishChapterID string
	publishFilePath  string
	publishPriority  string
	publishBitrates  []int
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a test transcode request to the intake topic",
	Long:  `Produces a ChapterTranscodeRequest on the priority-matched intake topic. Intended for local testing.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		client := broker.NewClient(cfg)
		defer client.Close()

		chapterID := publishChapterID
		if chapterID == "" {
			chapterID = uuid.NewString()
		}
		bitrates := publishBitrates
		if len(bitrates) == 0 {
			bitrates = cfg.TranscodingBitrates
		}

		req := model.ChapterTranscodeRequest{
			Chapter: model.Chapter{
				ID:       chapterID,
				Title:    "test chapter",
				FilePath: publishFilePath,
			},
			Bitrates:  bitrates,
			Priority:  publishPriority,
			Timestamp: time.Now(),
		}
		value, err := json.Marshal(&req)
		if err != nil {
			log.Fatalf("marshal request: %v", err)
		}

		topic := broker.IntakeTopicFor(publishPriority)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := client.Produce(ctx, topic, []byte(chapterID), value); err != nil {
			log.Fatalf("publish failed: %v", err)
		}
		fmt.Printf("published %s to %s (message id %s)\n", chapterID, topic, req.MessageID())
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishChapterID, "chapter", "", "chapter id (random when empty)")
	publishCmd.Flags().StringVar(&publishFilePath, "file", "", "source file path in object storage")
	publishCmd.Flags().StringVar(&publishPriority, "priority", "normal", "high|normal|low")
	publishCmd.Flags().IntSliceVar(&publishBitrates, "bitrates", nil, "bitrates to transcode (defaults to configured set)")
	_ = publishCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(publishCmd)
}
