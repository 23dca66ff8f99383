package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yeisme/bucketdrain/pkg/configs"
)

var (
	// config 子命令.
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "config subcommands",
	}

	// 打印当前使用的配置文件路径.
	configPathCmd = &cobra.Command{
		Use:   "path",
		Short: "print the path of the current config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := configs.GetViper()
			if v == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "config not initialized")

				return nil
			}

			cfg := v.ConfigFileUsed()
			if cfg == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no config file used (maybe using defaults or env)")

				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), cfg)

			return nil
		},
	}

	// 打印生效的配置，S3 密钥脱敏后输出.
	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "print the effective config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configs.GetViper() == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "config not initialized.")

				return nil
			}

			// 副本上脱敏，凭证不进终端和日志
			c := *configs.GetConfig()
			if c.S3.SecretAccessKey != "" {
				c.S3.SecretAccessKey = "******"
			}

			b, err := json.MarshalIndent(c, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(b))

			return nil
		},
	}
)

// registerConfigsCommands 注册 CLI 子命令.
func registerConfigsCommands() {
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(configCmd)
}
