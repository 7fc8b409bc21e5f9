package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/dispatch/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Adaptive task dispatcher",
	Long: `Dispatch runs tasks on a worker pool that grows and shrinks with the
queue. An autoscaler damps its decisions with hysteresis, and every
outcome is measured and reported to a feedback sink.`,
	SilenceUsage: true,
}

// Execute parses os.Args and runs the selected subcommand.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default $XDG_CONFIG_HOME/dispatch/config.yaml)")
	_ = viper.BindPFlag("config", flags.Lookup("config"))
}

// initConfig points viper at the config file and environment. A missing
// file is not an error: defaults and DISPATCH_* variables still apply.
func initConfig() {
	config.SetDefaults()
	config.BindEnv(viper.GetViper())

	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		for _, dir := range []string{config.ConfigDir(), "."} {
			viper.AddConfigPath(dir)
		}
	}
	_ = viper.ReadInConfig()
}
