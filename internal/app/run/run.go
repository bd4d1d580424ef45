package run

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/John-Robertt/wlsync/internal/domain"
	"github.com/John-Robertt/wlsync/internal/radarr"
	"github.com/John-Robertt/wlsync/internal/synclog"
	"github.com/John-Robertt/wlsync/internal/title"
)

// Scraper 抓取某个用户的完整 watchlist（已按页序展开）。
type Scraper interface {
	Watchlist(ctx context.Context, user string) ([]domain.WatchlistEntry, error)
}

// Resolver 把清洗后的标题解析为元数据条目；ok=false 表示没有结果。
type Resolver interface {
	SearchMovie(ctx context.Context, query string) (domain.MetadataMatch, bool, error)
}

// Registry 是目标媒体库（Radarr）。
//
// 约束：Add 对“已存在”必须返回 nil；被拒绝时返回 *radarr.AddError；其他错误视为致命。
type Registry interface {
	List(ctx context.Context) ([]domain.RegistryRecord, error)
	Add(ctx context.Context, m domain.MetadataMatch) error
}

// Deps 是一次运行需要的全部外部依赖。
type Deps struct {
	Scraper  Scraper
	Resolver Resolver
	Registry Registry

	// Sink 为 nil 时等同于 synclog.Discard。
	Sink synclog.Sink

	RunID  string
	DryRun bool

	// Now 仅用于测试注入；nil 时使用 time.Now。
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Execute 顺序处理 users 的 watchlist，并返回 RunReport。
//
// 单条“找不到 / 添加被拒绝”只记入 sink，不影响后续条目；
// 抓取失败、搜索失败、registry 传输失败会中止运行：此时 report 仍然 Finalize（包含已处理的条目），
// 同时返回 error。
func Execute(ctx context.Context, deps Deps, users []string, obs Observer) (domain.RunReport, error) {
	if obs == nil {
		obs = nopObserver{}
	}
	sink := deps.Sink
	if sink == nil {
		sink = synclog.Discard{}
	}

	rr := domain.RunReport{
		RunID:     deps.RunID,
		DryRun:    deps.DryRun,
		StartedAt: deps.now(),
		Users:     append([]string(nil), users...),
		Items:     make([]domain.ItemResult, 0, 64),
	}
	finish := func(err error) (domain.RunReport, error) {
		if err != nil {
			rr.Aborted = err.Error()
		}
		rr.FinishedAt = deps.now()
		rr.Finalize()
		return rr, err
	}

	obs.OnStart(rr.RunID, rr.Users, rr.DryRun)

	if deps.Scraper == nil || deps.Resolver == nil || deps.Registry == nil {
		return finish(errors.New("run: scraper/resolver/registry 不能为空"))
	}

	libStarted := time.Now()
	recs, err := deps.Registry.List(ctx)
	if err != nil {
		return finish(errors.Wrap(err, "list library"))
	}
	lib := domain.NewLibrary(recs)
	obs.OnPhaseDone("library", map[string]any{"movies": lib.Len()}, time.Since(libStarted))

	p := processor{deps: deps, sink: sink, lib: lib}
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}

		wlStarted := time.Now()
		entries, err := deps.Scraper.Watchlist(ctx, user)
		if err != nil {
			return finish(errors.Wrapf(err, "watchlist %s", user))
		}
		obs.OnPhaseDone("watchlist", map[string]any{"user": user, "titles": len(entries)}, time.Since(wlStarted))

		for i, e := range entries {
			if err := ctx.Err(); err != nil {
				return finish(err)
			}
			itemStarted := time.Now()
			res, err := p.process(ctx, e)
			if err != nil {
				return finish(err)
			}
			rr.Items = append(rr.Items, res)
			obs.OnItemDone(i+1, len(entries), res, time.Since(itemStarted))
		}
	}
	return finish(nil)
}

type processor struct {
	deps Deps
	sink synclog.Sink
	lib  domain.Library
}

func (p processor) process(ctx context.Context, e domain.WatchlistEntry) (domain.ItemResult, error) {
	res := domain.ItemResult{User: e.User, Title: e.Title}

	if p.lib.HasTitle(e.Title) {
		res.Status = domain.StatusSkipped
		return res, nil
	}

	query := title.Clean(e.Title)
	res.Query = query

	m, ok, err := p.deps.Resolver.SearchMovie(ctx, query)
	if err != nil {
		return res, errors.Wrapf(err, "search %q", query)
	}
	if !ok {
		p.sink.NotFound(e.Title, query)
		res.Status = domain.StatusNotFound
		return res, nil
	}
	res.TMDBID = m.ID
	res.MatchTitle = m.Title

	if p.lib.HasTMDBID(m.ID) {
		res.Status = domain.StatusExisting
		return res, nil
	}

	if p.deps.DryRun {
		res.Status = domain.StatusPlanned
		return res, nil
	}

	err = p.deps.Registry.Add(ctx, m)
	if err == nil {
		res.Status = domain.StatusAdded
		return res, nil
	}

	var ae *radarr.AddError
	if errors.As(err, &ae) {
		msg := strings.TrimSpace(ae.Body)
		if msg == "" {
			msg = ae.Error()
		}
		p.sink.Failure(synclog.Failure{
			Title:  m.Title,
			TMDBID: m.ID,
			Status: ae.Status,
			Error:  msg,
		})
		res.Status = domain.StatusFailed
		res.HTTPStatus = ae.Status
		res.ErrorMsg = msg
		return res, nil
	}
	return res, errors.Wrapf(err, "add %q", m.Title)
}
