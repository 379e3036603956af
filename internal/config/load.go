package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load initializes the configuration from file and environment variables.
func Load(cfgFile string) {
	// explicit .env loading
	if err := godotenv.Load(); err != nil {
		// .env is optional; environment variables still apply
		_ = err
	}

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("bothive")
	}

	viper.SetEnvPrefix("BOTHIVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// Plain env names recognized by the hosting plane take effect when the
	// prefixed form is absent.
	bindLegacyEnvInt("memory_max", "MEMORY_MAX")
	bindLegacyEnvInt("cpu_quota", "CPU_QUOTA")
	bindLegacyEnvInt("max_bots_per_user", "MAX_BOTS_PER_USER")

	// Set defaults
	viper.SetDefault("workspace_root", "./workspaces")
	viper.SetDefault("logs_root", "./logs")
	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("metrics_port", 2112)
	viper.SetDefault("db.type", "sqlite")
	viper.SetDefault("db.dsn", ".bothive.db")
	viper.SetDefault("memory_max", 128)
	viper.SetDefault("cpu_quota", 50)
	viper.SetDefault("max_bots_per_user", 5)
	viper.SetDefault("pip_timeout", 180)
	viper.SetDefault("npm_timeout", 240)
	viper.SetDefault("stop_grace", 5)
	viper.SetDefault("restart_delay", 1)
	viper.SetDefault("sample_interval", 3)
	viper.SetDefault("log_history", 100)
	viper.SetDefault("verbose", false)

	// Notification Defaults
	slackEnabled := os.Getenv("SLACK_BOT_USER_TOKEN") != ""
	viper.SetDefault("notifications.slack.enabled", slackEnabled)
	viper.SetDefault("notifications.slack.channel", "#bothive-alerts")
	viper.SetDefault("notifications.slack.events.on_veto", true)
	viper.SetDefault("notifications.slack.events.on_abuse_kill", true)

	// If a config file is found, read it in; absence is fine.
	_ = viper.ReadInConfig()
}

func bindLegacyEnvInt(key, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			viper.SetDefault(key, n)
		}
	}
}
