package main

import (
	"fmt"
	"io"
	"os"

	"github.com/Lilanga/booking-pal/internal/config"
	"github.com/Lilanga/booking-pal/internal/database"
	"github.com/Lilanga/booking-pal/internal/logging"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type app struct {
	configPath string
	cfg        *config.Config
	logger     *zerolog.Logger
	closer     io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "booking-pal",
		Short: "Meeting room kiosk backend",
		Long: `booking-pal keeps a meeting room kiosk usable while the calendar
service is unreachable: it serves cached events, queues bookings made
offline and replays them once the connection is back.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a.closer != nil {
				_ = a.closer.Close()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.CompletionOptions.DisableDefaultCmd = true

	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "configs/config.yaml"
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultPath, "path to the config file")

	root.AddCommand(
		newRunCmd(a),
		newStatusCmd(a),
		newQueueCmd(a),
		newExportCmd(a),
		newCheckCmd(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	a.closer = closer
	return nil
}

func (a *app) openDatabase() (*database.DB, error) {
	db, err := database.NewDB(a.cfg.Database.Path, logging.Component(a.logger, "database"))
	if err != nil {
		a.logger.Error().Err(err).Str("db_path", a.cfg.Database.Path).Msg("init database")
		return nil, err
	}
	return db, nil
}
