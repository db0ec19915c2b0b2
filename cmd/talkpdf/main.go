package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"talk-pdf/internal/app"
	"talk-pdf/internal/config"
)

var version = "dev"

var (
	cfgPath string
	noColor bool
	cfg     *config.Config
)

// skipConfig marks commands that run without loading the configuration.
const skipConfig = "skip-config"

var rootCmd = &cobra.Command{
	Use:           "talkpdf",
	Short:         "Ask questions about PDF documents",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
		if _, ok := cmd.Annotations[skipConfig]; ok {
			return nil
		}
		c, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = c
		slog.SetDefault(app.NewLogger(cfg, os.Stderr, false))
		return nil
	},
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a TOML config file")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(signupCmd, loginCmd, logoutCmd)
	rootCmd.AddCommand(conversationsCmd, newCmd, deleteCmd, historyCmd, askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configCheckCmd)
}
