package notify

import (
	"fmt"
	"strings"

	"github.com/gregdel/pushover"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/wlsync/internal/domain"
)

// pushover 单条消息正文上限为 1024 个字符。
const maxBody = 1024

// Sender 发送一条带标题的通知。
type Sender interface {
	Send(title, body string) error
}

// Pushover 通过 Pushover API 推送通知。
type Pushover struct {
	app       *pushover.Pushover
	recipient *pushover.Recipient
}

func NewPushover(token, user string) *Pushover {
	return &Pushover{
		app:       pushover.New(token),
		recipient: pushover.NewRecipient(user),
	}
}

func (p *Pushover) Send(title, body string) error {
	msg := pushover.NewMessageWithTitle(body, title)
	if _, err := p.app.SendMessage(msg, p.recipient); err != nil {
		return errors.Wrap(err, "pushover send")
	}
	return nil
}

// ShouldNotify：只有产生了新增、异常或运行被中止时才值得打扰用户。
func ShouldNotify(rr domain.RunReport) bool {
	s := rr.Summary
	return s.Added > 0 || s.NotFound > 0 || s.Failed > 0 || rr.Aborted != ""
}

// Summary 把 RunReport 渲染为通知标题与正文。
func Summary(rr domain.RunReport) (title, body string) {
	s := rr.Summary
	title = fmt.Sprintf("wlsync: %d added", s.Added)
	if rr.DryRun {
		title = fmt.Sprintf("wlsync (dry-run): %d planned", s.Planned)
	}
	if rr.Aborted != "" {
		title = "wlsync: run aborted"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "added=%d planned=%d existing=%d skipped=%d not_found=%d failed=%d\n",
		s.Added, s.Planned, s.Existing, s.Skipped, s.NotFound, s.Failed)
	if rr.Aborted != "" {
		fmt.Fprintf(&b, "error: %s\n", rr.Aborted)
	}
	writeSection(&b, "Added", rr.Items, domain.StatusAdded)
	writeSection(&b, "Not found", rr.Items, domain.StatusNotFound)
	writeSection(&b, "Failed", rr.Items, domain.StatusFailed)

	return title, truncate(strings.TrimRight(b.String(), "\n"), maxBody)
}

func writeSection(b *strings.Builder, head string, items []domain.ItemResult, status string) {
	first := true
	for _, it := range items {
		if it.Status != status {
			continue
		}
		if first {
			fmt.Fprintf(b, "%s:\n", head)
			first = false
		}
		name := it.Title
		if it.MatchTitle != "" {
			name = it.MatchTitle
		}
		fmt.Fprintf(b, "- %s\n", name)
	}
}

// Send 在需要时发送运行摘要；失败只告警，不影响退出码。
func Send(s Sender, rr domain.RunReport, log logrus.FieldLogger) bool {
	if s == nil || !ShouldNotify(rr) {
		return false
	}
	title, body := Summary(rr)
	if err := s.Send(title, body); err != nil {
		if log != nil {
			log.WithError(err).Warn("send notification failed")
		}
		return false
	}
	return true
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
