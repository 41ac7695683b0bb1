package cmd

import (
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telegram-queue-bridge/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tgbridge",
	Short: "Bridge between a message queue and the Telegram Bot API",
	Long: `tgbridge forwards queue messages of the form "<operation>\n<json>" to the
Telegram Bot API and publishes every update received through getUpdates
back to the queue.

Running tgbridge without a subcommand is the same as "tgbridge run".`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runRun,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/tgbridge/config.yaml)")
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}
