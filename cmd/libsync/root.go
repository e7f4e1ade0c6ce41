package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"libsync/internal/platform/config"
	"libsync/internal/platform/logger"
)

// app carries what every subcommand needs once PersistentPreRunE has run.
type app struct {
	v      *viper.Viper
	cfg    config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{v: config.NewViper()}
	var envFiles []string

	root := &cobra.Command{
		Use:           "libsync",
		Short:         "Library register synchronization",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before configuration is read")
	flags.String("log-level", a.v.GetString("log.level"), "log level: debug, info, warn, error")
	flags.String("log-format", a.v.GetString("log.format"), "log format: json or text")
	flags.String("database-url", "", "write pool DSN (overrides LIBSYNC_DATABASE_URL)")
	flags.Int("workers", a.v.GetInt("sync.workers"), "records upserted concurrently")

	bindFlag(a.v, "log.level", root, "log-level")
	bindFlag(a.v, "log.format", root, "log-format")
	bindFlag(a.v, "database.url", root, "database-url")
	bindFlag(a.v, "sync.workers", root, "workers")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if err := config.LoadDotEnv(envFiles...); err != nil {
			return err
		}
		a.cfg = config.FromViper(a.v)
		if err := a.cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		a.logger = logger.New(a.cfg.Log.Level, a.cfg.Log.Format)
		slog.SetDefault(a.logger)
		return nil
	}

	root.AddCommand(
		newSyncCommand(a),
		newServeCommand(a),
		newMigrateCommand(a),
		newPurgeCommand(a),
		newTokenCommand(a),
	)
	return root
}

func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, name string) {
	flag := cmd.PersistentFlags().Lookup(name)
	if flag == nil {
		flag = cmd.Flags().Lookup(name)
	}
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", name, err))
	}
}
