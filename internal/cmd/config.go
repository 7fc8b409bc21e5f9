package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/dispatch/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect, create or validate the configuration",
	Long: `Inspect, create or validate the dispatch configuration.

With no subcommand the effective configuration is printed, after the
config file and DISPATCH_* environment overrides have been applied.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file populated with the defaults",
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show where configuration is read from",
	RunE:  runConfigPath,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the active configuration",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configShowCmd, configInitCmd, configPathCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	source := viper.ConfigFileUsed()
	if source == "" {
		source = "(none, using defaults and environment)"
	}
	fmt.Fprintf(out, "Config file: %s\n\n", source)

	data, err := yaml.Marshal(config.Get())
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	content := append([]byte(configHeader), data...)
	if err := os.WriteFile(configFile, content, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

const configHeader = `# dispatch configuration
#
# scaling.*               worker bounds and hysteresis thresholds
# queue.max_depth         submissions beyond this many queued tasks are rejected (0 = unlimited)
# worker.task_timeout_seconds  per-task deadline (0 = none)
# feedback.backend        none, log or sqlite
# tracing.exporter        none or stdout
#
# Every key can be overridden with DISPATCH_<SECTION>_<KEY>, e.g. DISPATCH_SCALING_MAX_WORKERS.

`

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Active config: %s\n", used)
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	for i, dir := range []string{config.ConfigDir(), "."} {
		fmt.Fprintf(out, "  %d. %s\n", i+1, filepath.Join(dir, "config.yaml"))
	}
	fmt.Fprintf(out, "\nEnvironment variables: %s_<SECTION>_<KEY>, e.g. %s_SCALING_MAX_WORKERS\n",
		config.EnvPrefix, config.EnvPrefix)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
	return nil
}
