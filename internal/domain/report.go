package domain

import (
	"encoding/json"
	"time"
)

const (
	StatusAdded    = "added"
	StatusPlanned  = "planned"
	StatusExisting = "existing"
	StatusSkipped  = "skipped"
	StatusNotFound = "not_found"
	StatusFailed   = "failed"
)

// RunReport 是对外稳定输出（stdout JSON / 终端摘要）的结构。
// 与 sync log 不同：sync log 只记录异常，report 记录每条标题的结果。
type RunReport struct {
	RunID  string `json:"run_id"`
	DryRun bool   `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Users   []string      `json:"users"`
	Summary ReportSummary `json:"summary"`
	Items   []ItemResult  `json:"items"`

	// Aborted 非空表示运行被致命错误中止，Items 只包含中止前已处理的条目。
	Aborted string `json:"aborted,omitempty"`
}

type ReportSummary struct {
	Added    int `json:"added"`
	Planned  int `json:"planned"`
	Existing int `json:"existing"`
	Skipped  int `json:"skipped"`
	NotFound int `json:"not_found"`
	Failed   int `json:"failed"`
}

type ItemResult struct {
	User  string `json:"user"`
	Title string `json:"title"`
	Query string `json:"query"`

	TMDBID     int    `json:"tmdb_id,omitempty"`
	MatchTitle string `json:"match_title,omitempty"`

	Status     string `json:"status"`
	HTTPStatus int    `json:"http_status,omitempty"`
	ErrorMsg   string `json:"error_msg,omitempty"`
}

// Finalize 做两件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) summary 由 items 计算得出
//
// items 保持处理顺序（用户顺序 + watchlist 顺序），不重排。
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	if r.Items == nil {
		r.Items = []ItemResult{}
	}
	if r.Users == nil {
		r.Users = []string{}
	}

	var s ReportSummary
	for _, it := range r.Items {
		switch it.Status {
		case StatusAdded:
			s.Added++
		case StatusPlanned:
			s.Planned++
		case StatusExisting:
			s.Existing++
		case StatusSkipped:
			s.Skipped++
		case StatusNotFound:
			s.NotFound++
		case StatusFailed:
			s.Failed++
		}
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
