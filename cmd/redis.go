package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"abstream/cache"
	"abstream/config"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Test the Redis connection",
	Long:  `Connects to Redis and performs a basic set/get/delete round trip.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		fmt.Printf("Redis target: %s:%s db %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		client, err := cache.ConnectRedis(cfg)
		if err != nil {
			log.Fatalf("cannot connect to Redis: %v", err)
		}
		defer client.Close()

		ctx := context.Background()
		key := "abstream:connection-check"
		if err := client.Set(ctx, key, "ok", time.Minute).Err(); err != nil {
			log.Fatalf("set failed: %v", err)
		}
		val, err := client.Get(ctx, key).Result()
		if err != nil || val != "ok" {
			log.Fatalf("get failed: val=%q err=%v", val, err)
		}
		if err := client.Del(ctx, key).Err(); err != nil {
			log.Fatalf("del failed: %v", err)
		}
		fmt.Println("Redis round trip succeeded.")
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
