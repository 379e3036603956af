package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bothive/internal/config"
	"bothive/internal/telemetry"
)

var exit = os.Exit
var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "bothive",
	Short:         "BotHive: multi-tenant bot hosting plane",
	Long:          `BotHive hosts user-submitted bot programs, supervises their processes, and streams their status and logs to connected consoles.`,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Run 'bothive --help' for usage.")
		exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./bothive.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose/debug logging")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.Load(cfgFile)
	if err := config.ValidateConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		exit(1)
	}

	logFile := ""
	if root := viper.GetString("logs_root"); root != "" {
		if err := os.MkdirAll(root, 0755); err == nil {
			logFile = filepath.Join(root, "bothive.log")
		}
	}
	telemetry.InitLogger(viper.GetBool("verbose"), logFile)
}
