package main

import (
	"github.com/spf13/cobra"

	"github.com/John-Robertt/wlsync/internal/config"
)

// commandContext 在各子命令之间共享全局 flag 与配置加载逻辑。
type commandContext struct {
	getwd      func() (string, error)
	configPath string
}

func (c *commandContext) load(cli config.CLIArgs) (config.EffectiveConfig, error) {
	cwd, err := c.getwd()
	if err != nil {
		return config.EffectiveConfig{}, err
	}
	cli.ConfigPath = c.configPath
	return config.Load(cwd, cli)
}

func newRootCommand(getwd func() (string, error)) *cobra.Command {
	ctx := &commandContext{getwd: getwd}

	rootCmd := &cobra.Command{
		Use:           "wlsync",
		Short:         "把 Letterboxd watchlist 同步到 Radarr",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError(err)
	})

	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "", "配置文件路径（TOML；默认读取当前目录下的 "+config.DefaultFile+"，不存在则忽略）")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newWatchlistCommand(ctx))
	rootCmd.AddCommand(newCleanCommand())
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}

// exactArgs 与 cobra.ExactArgs 相同，但参数数量不符时返回用法错误（退出码 2）。
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

func minimumArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MinimumNArgs(n)(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}
