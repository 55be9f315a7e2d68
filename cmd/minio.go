package cmd

import (
	"context"
	"fmt"
	"log"

	"abstream/config"
	"abstream/storage"

	"github.com/spf13/cobra"
)

var minioPrefix string

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "Inspect the object-store bucket",
	Long:  `Lists stored objects and prints bucket usage, filtered by an optional key prefix.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		store, err := storage.New(cfg)
		if err != nil {
			log.Fatalf("storage init failed: %v", err)
		}

		ctx := context.Background()
		if err := store.Test(ctx); err != nil {
			log.Fatalf("storage unreachable: %v", err)
		}
		fmt.Printf("storage provider %q reachable\n", store.Provider())

		objects, err := store.List(ctx, minioPrefix)
		if err != nil {
			log.Fatalf("listing failed: %v", err)
		}

		var totalSize int64
		for _, obj := range objects {
			totalSize += obj.Size
			fmt.Printf("%-70s %10s  %s\n", obj.Key, formatSize(obj.Size), obj.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("\n%d objects, %s total\n", len(objects), formatSize(totalSize))
	},
}

func init() {
	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "key prefix filter")
	rootCmd.AddCommand(minioCmd)
}

func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
