package main

import (
	"errors"
	"os"

	"github.com/MarcoPoloResearchLab/fairway/backend/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "fairway",
		Short:         "Fairway disc golf companion",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newWatchCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to an optional .env file")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("cache-path", defaults.GetString("cache.path"), "SQLite path of the local cache")

	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "cache.path", "cache-path")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
