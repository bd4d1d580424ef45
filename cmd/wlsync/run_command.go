package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/wlsync/internal/app/run"
	"github.com/John-Robertt/wlsync/internal/config"
	"github.com/John-Robertt/wlsync/internal/domain"
	"github.com/John-Robertt/wlsync/internal/infra/httpx"
	"github.com/John-Robertt/wlsync/internal/letterboxd"
	"github.com/John-Robertt/wlsync/internal/logging"
	"github.com/John-Robertt/wlsync/internal/notify"
	"github.com/John-Robertt/wlsync/internal/radarr"
	"github.com/John-Robertt/wlsync/internal/synclog"
	"github.com/John-Robertt/wlsync/internal/tmdb"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		users    []string
		schedule string
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "执行一次同步（或按 --schedule 周期执行）",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			cfg, err := ctx.load(config.CLIArgs{
				Users:       users,
				UsersSet:    flags.Changed("user"),
				DryRun:      dryRun,
				DryRunSet:   flags.Changed("dry-run"),
				Schedule:    schedule,
				ScheduleSet: flags.Changed("schedule"),
			})
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log := logging.New(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile})
			r, err := newRunner(cfg, log, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Schedule != "" {
				return r.schedule(sigCtx, cfg.Schedule)
			}
			_, err = r.once(sigCtx)
			return err
		},
	}

	cmd.Flags().StringArrayVarP(&users, "user", "u", nil, "Letterboxd 用户名（可重复；覆盖配置中的用户列表）")
	cmd.Flags().StringVar(&schedule, "schedule", "", `cron 表达式，例如 "@every 6h"；为空时只运行一次`)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "只解析不添加（不写 sync log）；支持 --dry-run=false 覆盖配置")
	return cmd
}

// runner 持有一次进程生命周期内不变的依赖；每次 once 都是一次完整、独立的运行。
type runner struct {
	cfg    config.EffectiveConfig
	log    *logrus.Logger
	out    io.Writer
	deps   run.Deps
	file   *synclog.FileLog
	sender notify.Sender
}

func newRunner(cfg config.EffectiveConfig, log *logrus.Logger, out io.Writer) (*runner, error) {
	scrapeClient, err := httpx.NewScrapeClient(cfg.ProxyURL, cfg.HTTPRetries)
	if err != nil {
		return nil, &config.Error{Code: config.ErrCodeInvalid, Path: cfg.ConfigFile, Err: err}
	}
	apiClient, err := httpx.NewAPIClient(cfg.ProxyURL, cfg.TMDBRateLimit)
	if err != nil {
		return nil, &config.Error{Code: config.ErrCodeInvalid, Path: cfg.ConfigFile, Err: err}
	}

	r := &runner{cfg: cfg, log: log, out: out}
	r.deps = run.Deps{
		Scraper: letterboxd.Scraper{
			BaseURL: cfg.LetterboxdBaseURL,
			Client:  scrapeClient,
			OnPage: func(user string, page, total, count int) {
				log.WithFields(logrus.Fields{"user": user, "page": page, "pages": total, "titles": count}).Info("watchlist page fetched")
			},
		},
		Resolver: tmdb.Client{BaseURL: cfg.TMDBBaseURL, APIKey: cfg.TMDBAPIKey, HTTP: apiClient, Log: log},
		Registry: radarr.Client{
			BaseURL:          cfg.RadarrURL,
			APIKey:           cfg.RadarrAPIKey,
			HTTP:             apiClient,
			RootFolder:       cfg.RootFolder,
			QualityProfileID: cfg.QualityProfileID,
			Log:              log,
		},
		DryRun: cfg.DryRun,
	}
	if !cfg.DryRun {
		r.file = synclog.NewFileLog(cfg.SyncLogPath, log)
	}
	if cfg.NotifyEnabled() {
		r.sender = notify.NewPushover(cfg.PushoverToken, cfg.PushoverUser)
	}
	return r, nil
}

// sink 决定本次运行的异常条目去向：dry-run 只留在内存；CI 环境丢弃；否则写文件。
func (r *runner) sink() synclog.Sink {
	switch {
	case r.file == nil:
		return &synclog.Memory{}
	case r.cfg.SuppressSyncLog:
		return synclog.Discard{}
	default:
		return r.file
	}
}

func (r *runner) once(ctx context.Context) (domain.RunReport, error) {
	deps := r.deps
	deps.RunID = uuid.NewString()
	deps.Sink = r.sink()

	log := r.log.WithField("run", deps.RunID)
	if reg, ok := deps.Registry.(radarr.Client); ok {
		reg.Log = log
		deps.Registry = reg
	}
	if r.file != nil {
		r.file.Log = log
		// 每次运行开始都清空上一次的记录（CI 环境同样清空，只是不再追加）。
		r.file.Reset()
	}

	rr, runErr := run.Execute(ctx, deps, r.cfg.Users, newLogObserver(log))
	if err := emitReport(r.out, rr); err != nil {
		log.WithError(err).Warn("write report failed")
	}
	notify.Send(r.sender, rr, log)

	if runErr != nil {
		log.WithError(runErr).Error("run aborted")
		return rr, &exitError{code: exitFail, err: runErr, reported: true}
	}
	// 添加被拒绝属于可恢复的结果：已记入 report（与 sync log），不影响退出码。
	if rr.Summary.Failed > 0 {
		log.WithField("failed", rr.Summary.Failed).Warn("some additions were rejected by radarr, see the run report")
	}
	return rr, nil
}

// schedule 按 cron 表达式重复运行，直到 ctx 被取消；上一次未结束时跳过本次触发。
func (r *runner) schedule(ctx context.Context, spec string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(r.log))))
	if _, err := c.AddFunc(spec, func() {
		if _, err := r.once(ctx); err != nil {
			r.log.WithError(err).Warn("scheduled run finished with errors")
		}
	}); err != nil {
		return usageError(errors.Wrapf(err, "invalid --schedule %q", spec))
	}

	r.log.WithField("schedule", spec).Info("scheduler started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.log.Info("scheduler stopped")
	return nil
}
