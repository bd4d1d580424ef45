package synclog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/wlsync/internal/infra/fsx"
	"github.com/John-Robertt/wlsync/internal/logging"
)

// Section 是 sync log 中可追加的列表名（同时也是 JSON 字段名）。
type Section string

const (
	SectionNotFound Section = "notFoundOnTmdb"
	SectionFailures Section = "radarrFailures"
)

// Failure 是一次 registry 添加失败的记录。
type Failure struct {
	Title  string `json:"title"`
	TMDBID int    `json:"tmdbId"`
	Status int    `json:"status"`
	Error  string `json:"error"`
}

// File 是 sync log 文件的完整结构。
type File struct {
	Timestamp      string    `json:"timestamp"`
	NotFoundOnTmdb []string  `json:"notFoundOnTmdb"`
	RadarrFailures []Failure `json:"radarrFailures"`
}

// Fresh 返回一个空的 sync log（两个列表都是 [] 而不是 null）。
func Fresh(now time.Time) File {
	return File{
		Timestamp:      now.UTC().Format(time.RFC3339),
		NotFoundOnTmdb: []string{},
		RadarrFailures: []Failure{},
	}
}

// Sink 接收运行中的异常条目。编排层只依赖该接口，不关心落盘与否。
type Sink interface {
	NotFound(raw, cleaned string)
	Failure(f Failure)
}

// NotFoundEntry 把“原始标题 + 实际搜索词”合成一条可读记录。
func NotFoundEntry(raw, cleaned string) string {
	raw = strings.TrimSpace(raw)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == raw {
		return raw
	}
	return fmt.Sprintf("%s (searched: %s)", raw, cleaned)
}

var _ Sink = (*FileLog)(nil)

// FileLog 是落盘的 sync log。
//
// 约束：
// - 每次 Append 都是完整的“读 -> 改 -> 原子写”，不在内存里跨调用持有状态
// - 读写失败只打 warning，绝不向上返回（日志是 best-effort）
// - 读写周期内持有文件锁，避免另一个进程同时改写
type FileLog struct {
	Path string
	Log  logrus.FieldLogger
	Now  func() time.Time

	lock *flock.Flock
}

func NewFileLog(path string, log logrus.FieldLogger) *FileLog {
	if log == nil {
		log = logging.Discard()
	}
	return &FileLog{
		Path: path,
		Log:  log,
		Now:  time.Now,
		lock: flock.New(path + ".lock"),
	}
}

// Reset 写入一个全新的空 sync log，覆盖上一次运行留下的内容。
func (l *FileLog) Reset() {
	unlock := l.acquire()
	defer unlock()

	if err := l.write(Fresh(l.Now())); err != nil {
		l.Log.WithError(err).WithField("path", l.Path).Warn("reset sync log failed")
	}
}

// Append 把 entry 追加到 section 对应的列表。
// SectionNotFound 需要 string，SectionFailures 需要 Failure；类型不符的条目被丢弃并告警。
func (l *FileLog) Append(section Section, entry any) {
	unlock := l.acquire()
	defer unlock()

	f, err := Read(l.Path)
	if err != nil {
		l.Log.WithError(err).WithField("path", l.Path).Warn("read sync log failed, starting fresh")
		f = Fresh(l.Now())
	}

	switch section {
	case SectionNotFound:
		s, ok := entry.(string)
		if !ok {
			l.Log.WithField("section", section).Warnf("unexpected entry type %T", entry)
			return
		}
		f.NotFoundOnTmdb = append(f.NotFoundOnTmdb, s)
	case SectionFailures:
		fe, ok := entry.(Failure)
		if !ok {
			l.Log.WithField("section", section).Warnf("unexpected entry type %T", entry)
			return
		}
		f.RadarrFailures = append(f.RadarrFailures, fe)
	default:
		l.Log.WithField("section", section).Warn("unknown sync log section")
		return
	}

	if err := l.write(f); err != nil {
		l.Log.WithError(err).WithField("path", l.Path).Warn("write sync log failed")
	}
}

func (l *FileLog) NotFound(raw, cleaned string) {
	l.Append(SectionNotFound, NotFoundEntry(raw, cleaned))
}

func (l *FileLog) Failure(f Failure) {
	l.Append(SectionFailures, f)
}

func (l *FileLog) acquire() func() {
	if l.lock == nil {
		return func() {}
	}
	if err := l.lock.Lock(); err != nil {
		// 拿不到锁也继续写：日志是 best-effort。
		l.Log.WithError(err).WithField("path", l.lock.Path()).Warn("lock sync log failed")
		return func() {}
	}
	return func() { _ = l.lock.Unlock() }
}

func (l *FileLog) write(f File) error {
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomic(l.Path, b)
}

// Read 读取并解析 sync log。缺失的列表补成空列表。
func Read(path string) (File, error) {
	b, ok, err := fsx.ReadFileIfExists(path)
	if err != nil {
		return File{}, err
	}
	if !ok {
		return File{}, fmt.Errorf("sync log 不存在：%s", path)
	}
	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return File{}, err
	}
	if f.NotFoundOnTmdb == nil {
		f.NotFoundOnTmdb = []string{}
	}
	if f.RadarrFailures == nil {
		f.RadarrFailures = []Failure{}
	}
	return f, nil
}
