package main

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/wlsync/internal/app/run"
	"github.com/John-Robertt/wlsync/internal/domain"
)

var _ run.Observer = (*logObserver)(nil)

// logObserver 把运行事件写成结构化日志（stderr / 日志文件），不触碰 stdout。
type logObserver struct {
	log logrus.FieldLogger
}

func newLogObserver(log logrus.FieldLogger) *logObserver {
	return &logObserver{log: log}
}

func (o *logObserver) OnStart(runID string, users []string, dryRun bool) {
	o.log.WithFields(logrus.Fields{"users": users, "dry_run": dryRun}).Info("sync started")
}

func (o *logObserver) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	o.log.WithFields(logrus.Fields(fields)).WithField("took", dur.Round(time.Millisecond)).Infof("%s ready", name)
}

func (o *logObserver) OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration) {
	e := o.log.WithFields(logrus.Fields{
		"user":   res.User,
		"item":   idx,
		"total":  total,
		"status": res.Status,
	})
	if res.TMDBID != 0 {
		e = e.WithField("tmdb_id", res.TMDBID)
	}

	switch res.Status {
	case domain.StatusFailed:
		e.WithField("http_status", res.HTTPStatus).Warnf("%s: %s", res.Title, res.ErrorMsg)
	case domain.StatusNotFound:
		e.WithField("query", res.Query).Warnf("%s: not found", res.Title)
	case domain.StatusSkipped, domain.StatusExisting:
		e.Debug(res.Title)
	default:
		e.Info(res.Title)
	}
}
