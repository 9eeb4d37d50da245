package main

import (
	"fmt"
	"os"

	"github.com/de-tools/usage-meter/pkg/server"
	"github.com/de-tools/usage-meter/pkg/services/config"
	"github.com/de-tools/usage-meter/pkg/services/reporting"
	"github.com/de-tools/usage-meter/pkg/store/postgres"
	usagestore "github.com/de-tools/usage-meter/pkg/store/postgres/usage"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	var rootCmd = &cobra.Command{
		Use:   "web",
		Short: "Start the usage reporting API",
		RunE:  runServer,
	}

	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "",
		"Path to the yaml config file (optional, env vars override)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Error loading .env file: %v\n", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := postgres.NewDB(postgres.Settings{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	usageStore, err := usagestore.NewStore(db)
	if err != nil {
		return fmt.Errorf("failed to create usage store: %w", err)
	}

	api := server.NewWebAPI(logger, server.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Dependencies: server.Dependencies{
			Reporting: reporting.NewExplorer(usageStore),
		},
	})

	return api.Start()
}
