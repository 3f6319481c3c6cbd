// Package cli provides the moira-checker command-line interface: a `run`
// command that starts the dispatcher, worker pool, and optional AMQP
// ingest bridge against a Redis-backed Store, and a `version` command that
// reports build provenance.
//
// Configuration is layered: command-line flags override environment
// variables, which override a YAML config file, which falls back to the
// defaults in config.Load.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/moira-alert/moira/common"
	"github.com/moira-alert/moira/config"
	"github.com/moira-alert/moira/internal/checker"
	"github.com/moira-alert/moira/internal/dispatcher"
	"github.com/moira-alert/moira/internal/fetcher"
	"github.com/moira-alert/moira/internal/ingestbus"
	"github.com/moira-alert/moira/internal/store"
	"github.com/moira-alert/moira/internal/workerpool"
	"github.com/moira-alert/moira/version"
)

var cfgFile string

// RootCmd is the moira-checker entry point.
var RootCmd = &cobra.Command{
	Use:   "moira-checker",
	Short: "metric-driven trigger checker for the moira alerting engine",
	Long: `moira-checker

Watches an incoming metric stream, matches it against registered triggers,
evaluates each trigger's graphite-style target expressions, and pushes
state-transition events for notification delivery.

Run "moira-checker run" to start the dispatcher and worker pool, or
"moira-checker version" to print build information.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./moira-checker.yaml or $HOME/moira-checker.yaml)")
	RootCmd.PersistentFlags().String("redis-addr", "", "Redis address (host:port)")
	RootCmd.PersistentFlags().String("graphite-uri", "", "comma-separated graphite plaintext replica list")
	RootCmd.PersistentFlags().String("ingest-amqp-url", "", "AMQP broker URL for the optional ingest bridge")
	RootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	viper.BindPFlag("redis.addr", RootCmd.PersistentFlags().Lookup("redis-addr"))
	viper.BindPFlag("graphite.uri", RootCmd.PersistentFlags().Lookup("graphite-uri"))
	viper.BindPFlag("ingest.amqp_url", RootCmd.PersistentFlags().Lookup("ingest-amqp-url"))
	viper.BindPFlag("log.level", RootCmd.PersistentFlags().Lookup("log-level"))

	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(".")
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName("moira-checker")
	}

	viper.SetEnvPrefix("MOIRA_CHECKER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start the dispatcher and worker pool",
	Run:   runChecker,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build and dependency information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("moira-checker", version.GetModuleVersion())
		info := version.GetBuildInfo()
		fmt.Println("go:", info.GoVersion)
		for _, dep := range info.Dependencies {
			fmt.Printf("  %s %s\n", dep.Path, dep.Version)
		}
	},
}

func runChecker(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		common.Logger.WithError(err).Fatal("Invalid configuration")
	}

	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		common.Logger.SetLevel(level)
	}
	if cfg.Log.Format == "json" {
		common.Logger.SetFormatter(&logrus.JSONFormatter{})
	}

	s, err := store.New(store.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		common.Logger.WithError(err).Fatal("Failed to connect to store")
	}
	defer s.Close()

	f := fetcher.New(s)
	chk := checker.New(s, f)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	disp := dispatcher.New(s, cfg.DispatcherConfig())
	pool := workerpool.New(s, chk, cfg.WorkerPoolConfig())

	go func() {
		if err := disp.Run(ctx); err != nil && ctx.Err() == nil {
			common.Logger.WithError(err).Error("Dispatcher stopped unexpectedly")
		}
	}()
	go pool.Run(ctx)

	if cfg.AMQPEnabled() {
		bridge, err := ingestbus.NewBridge(cfg.IngestBusConfig())
		if err != nil {
			common.Logger.WithError(err).Fatal("Failed to start AMQP ingest bridge")
		}
		defer bridge.Close()

		go func() {
			if err := bridge.Run(ctx, s); err != nil && ctx.Err() == nil {
				common.Logger.WithError(err).Error("Ingest bridge stopped unexpectedly")
			}
		}()
	}

	common.Logger.WithFields(logrus.Fields{
		"redis_addr":     cfg.Redis.Addr,
		"redis_password": common.MaskSecret(cfg.Redis.Password),
	}).Info("moira-checker started")
	<-ctx.Done()
	common.Logger.Info("Shutting down")
}
