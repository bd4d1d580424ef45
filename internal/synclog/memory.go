package synclog

var (
	_ Sink = (*Memory)(nil)
	_ Sink = Discard{}
)

// Memory 在内存里累积条目（测试与 dry-run 用）。
type Memory struct {
	NotFounds []string
	Failures  []Failure
}

func (m *Memory) NotFound(raw, cleaned string) {
	m.NotFounds = append(m.NotFounds, NotFoundEntry(raw, cleaned))
}

func (m *Memory) Failure(f Failure) { m.Failures = append(m.Failures, f) }

// Discard 丢弃所有条目：CI/自动化环境下不写 sync log。
type Discard struct{}

func (Discard) NotFound(string, string) {}
func (Discard) Failure(Failure)         {}
