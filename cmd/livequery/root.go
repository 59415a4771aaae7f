package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// These are set using -ldflags at build time.
var (
	version string
	commit  string
	date    string
)

var (
	log        *zap.SugaredLogger
	configFile string
)

// Cmd is the CLI entry point: a cobra root command with a persistent
// --config flag and one subcommand per concern.
func Cmd() {
	log = newLogger().Sugar()
	defer log.Sync()

	cobra.EnableCommandSorting = false
	root := &cobra.Command{
		Use:   "livequery",
		Short: "Reactive SQL subscription server",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (optional, env vars and defaults otherwise)")

	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("%s", err)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("livequery %s (%s) built %s\n", orDev(version), orDev(commit), orDev(date))
		},
	}
}

func orDev(s string) string {
	if s == "" {
		return "dev"
	}
	return s
}

func newLogger() *zap.Logger {
	econf := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "ts",
		NameKey:        "logger",
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(econf), zapcore.AddSync(os.Stdout), zap.DebugLevel)
	return zap.New(core)
}
