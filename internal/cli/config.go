package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Dicklesworthstone/opgate/internal/config"
	"github.com/Dicklesworthstone/opgate/internal/core"
	"github.com/spf13/cobra"
)

var (
	flagConfigGlobal bool
)

func init() {
	configCmd.PersistentFlags().BoolVar(&flagConfigGlobal, "global", false, "operate on user config (~/.opgate/config.toml)")

	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configHashTokenCmd)

	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or modify opgate configuration",
	Long: `Show the effective configuration after every layer is applied:
defaults, ~/.opgate/config.toml, the project .opgate/config.toml, then
OPGATE_* environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if out.IsText() {
			// Text mode shows the TOML a user would write.
			return writeTOML(cmd, cfg)
		}
		return out.Write(cfg)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		val, ok := config.GetValue(cfg, args[0])
		if !ok {
			return fmt.Errorf("unknown key %q", args[0])
		}
		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if out.IsText() {
			fmt.Fprintln(cmd.OutOrStdout(), formatValue(val))
			return nil
		}
		return out.Write(map[string]any{
			"key":   args[0],
			"value": val,
		})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in the project (or --global) config file",
	Long: `Set a configuration value. Lists are comma separated.

Examples:
  opgate config set general.confirm_timeout 120
  opgate config set context.staging_hosts 'staging\.,-dev\.'
  opgate config set --global general.forbidden_action block`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := configTarget()
		if err != nil {
			return err
		}

		value, err := config.ParseValue(args[0], args[1])
		if err != nil {
			return err
		}
		if err := config.WriteValue(target, args[0], value); err != nil {
			return err
		}

		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		return out.Write(map[string]any{
			"path":  target,
			"key":   args[0],
			"value": value,
		})
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the config file in $EDITOR (default: vi)",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := configTarget()
		if err != nil {
			return err
		}

		if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
			if err := config.WriteValue(target, "general.confirm_timeout", config.DefaultConfig().General.ConfirmTimeoutSecs); err != nil {
				return err
			}
		} else if err != nil {
			return fmt.Errorf("stat %s: %w", target, err)
		}

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}
		editCmd := exec.Command(editor, target)
		editCmd.Stdin = os.Stdin
		editCmd.Stdout = os.Stdout
		editCmd.Stderr = os.Stderr
		return editCmd.Run()
	},
}

var configHashTokenCmd = &cobra.Command{
	Use:   "hash-token <token>",
	Short: "Print the SHA256 digest to store in bypass.token_sha256",
	Long: `Print the SHA256 digest of a bypass token. Only digests are stored in
config; the token itself is passed with --bypass-token or
OPGATE_BYPASS_TOKEN together with --confirm.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		digest := core.HashToken(args[0])
		out, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if out.IsText() {
			fmt.Fprintln(cmd.OutOrStdout(), digest)
			return nil
		}
		return out.Write(map[string]string{"token_sha256": digest})
	},
}

func configTarget() (string, error) {
	project, err := projectPath()
	if err != nil {
		return "", err
	}
	userPath, projectCfg := config.ConfigPaths(project, flagConfig)
	if flagConfigGlobal {
		return userPath, nil
	}
	return projectCfg, nil
}

func writeTOML(cmd *cobra.Command, cfg config.Config) error {
	if err := toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

func formatValue(v any) string {
	if list, ok := v.([]string); ok {
		return strings.Join(list, ",")
	}
	return fmt.Sprint(v)
}
