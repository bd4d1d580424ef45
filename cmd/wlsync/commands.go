package main

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/wlsync/internal/config"
	"github.com/John-Robertt/wlsync/internal/infra/httpx"
	"github.com/John-Robertt/wlsync/internal/letterboxd"
	"github.com/John-Robertt/wlsync/internal/title"
)

// newWatchlistCommand 只抓取并打印标题（原始标题 + 搜索词），不访问 TMDB/Radarr。
func newWatchlistCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watchlist <user>",
		Short: "抓取并打印某个用户的 watchlist",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.load(config.CLIArgs{})
			if err != nil {
				return err
			}
			client, err := httpx.NewScrapeClient(cfg.ProxyURL, cfg.HTTPRetries)
			if err != nil {
				return &config.Error{Code: config.ErrCodeInvalid, Path: cfg.ConfigFile, Err: err}
			}

			s := letterboxd.Scraper{BaseURL: cfg.LetterboxdBaseURL, Client: client}
			entries, err := s.Watchlist(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "%s\t%s\n", e.Title, title.Clean(e.Title))
			}
			return nil
		},
	}
}

func newCleanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clean <title>...",
		Short: "打印标题清洗后的搜索词",
		Args:  minimumArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, a := range args {
				fmt.Fprintln(out, title.Clean(a))
			}
			return nil
		},
	}
}

// newConfigCommand 以 TOML 打印合并后的最终配置（密钥已隐藏）。
func newConfigCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "打印最终生效的配置（密钥已隐藏）",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.load(config.CLIArgs{})
			if err != nil {
				return err
			}
			b, err := toml.Marshal(cfg.Redacted())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}
