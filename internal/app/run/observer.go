package run

import (
	"time"

	"github.com/John-Robertt/wlsync/internal/domain"
)

// Observer 用于把“运行进度/阶段/条目结果”从核心执行流程中解耦出来。
//
// 约束：run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
type Observer interface {
	// OnStart 在 Execute 开始时调用（早于任何网络请求）。
	OnStart(runID string, users []string, dryRun bool)
	// OnPhaseDone 在阶段结束时调用：library 快照、每个用户的 watchlist。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnItemDone 在某条标题处理完成时调用；idx 从 1 开始，total 为该用户 watchlist 的条目数。
	OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration)
}

type nopObserver struct{}

func (nopObserver) OnStart(string, []string, bool)                        {}
func (nopObserver) OnPhaseDone(string, map[string]any, time.Duration)     {}
func (nopObserver) OnItemDone(int, int, domain.ItemResult, time.Duration) {}
