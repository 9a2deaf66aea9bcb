package cmd

import (
	"github.com/pkg/errors"
	"github.com/rubens21/go-lifetimes/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "lifetimes",
	Short: "Exercise lifetime trees from the command line",
	Long: `lifetimes drives the lifetimes package through a few workloads:
churning sequential lifetimes, racing guarded sections against termination,
and printing a lifetime tree.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./lifetimes.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("lifetimes")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/lifetimes")
	}

	config.BindEnv()

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// setup loads the configuration and applies it to the lifetimes package.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading config")
	}
	logger, err := cfg.Apply()
	if err != nil {
		return nil, nil, errors.Wrap(err, "applying config")
	}
	return cfg, logger, nil
}
