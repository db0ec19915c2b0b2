package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"talk-pdf/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:         "init [path]",
	Short:       "Write an example configuration file",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "talkpdf.toml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteSample(path); err != nil {
			return err
		}
		printSuccess("Wrote %s", path)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration for the CLI and the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := false
		if err := cfg.ValidateClient(); err != nil {
			printError("client: %v", err)
			failed = true
		} else {
			printSuccess("client configuration ok")
		}
		if err := cfg.ValidateServer(); err != nil {
			printError("server: %v", err)
			failed = true
		} else {
			printSuccess("server configuration ok")
		}
		printStatus("Store", "%s", cfg.Store.Backend)
		model := cfg.Inference.Model
		if model == "" {
			model = "provider default"
		}
		printStatus("Provider", "%s (%s)", cfg.Inference.Provider, model)
		printStatus("API", "%s", cfg.Client.APIURL)
		if failed {
			fmt.Fprintln(os.Stderr)
			return fmt.Errorf("configuration is incomplete")
		}
		return nil
	},
}
