package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 控制日志级别与可选的滚动日志文件。
type Config struct {
	Level string // debug / info / warn / error，空串为 info
	File  string // 非空时额外写入该文件（lumberjack 滚动）

	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// New 构造 logger：始终写 stderr（stdout 留给 report JSON），可选再写滚动文件。
func New(cfg Config) *logrus.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

func NewWithWriter(cfg Config, w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	l.SetLevel(parseLevel(cfg.Level))

	if strings.TrimSpace(cfg.File) == "" {
		l.SetOutput(w)
		return l
	}

	size := cfg.MaxSizeMB
	if size <= 0 {
		size = 10
	}
	backups := cfg.MaxBackups
	if backups <= 0 {
		backups = 3
	}
	l.SetOutput(io.MultiWriter(w, &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    size,
		MaxBackups: backups,
		MaxAge:     28,
		Compress:   cfg.Compress,
	}))
	return l
}

// Discard 返回一个不输出任何内容的 logger（测试与库默认值用）。
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func parseLevel(s string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
