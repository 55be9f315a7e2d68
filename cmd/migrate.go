package cmd

import (
	"fmt"
	"log"

	"abstream/config"
	"abstream/db"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		gdb, err := db.Connect(cfg)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close(gdb)

		if err := db.AutoMigrate(gdb); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		fmt.Println("Schema migrated.")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
