package fsx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// 通过可替换的函数指针，让测试能稳定模拟 rename 失败。
var renameFunc = os.Rename

// PathTypeConflictError 表示目标路径类型冲突（例如期望文件但实际是目录）。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// WriteFileAtomic 原子写入 path（同目录临时文件 + rename），已存在则覆盖。
//
// 读者要么看到旧内容，要么看到完整的新内容，不会读到写了一半的 JSON。
func WriteFileAtomic(path string, data []byte) error {
	path = filepath.Clean(path)
	if fi, err := os.Lstat(path); err == nil && fi.IsDir() {
		return &PathTypeConflictError{Path: path, Want: "file", Got: "dir"}
	}

	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := writeAll(tmp, data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := renameFunc(tmpName, path); err != nil {
		return err
	}

	// 目录 fsync：best-effort（不同平台/文件系统的语义差异很大）。
	_ = syncDirBestEffort(dir)
	return nil
}

// ReadFileIfExists 读取文件；不存在时返回 (nil, false, nil)。
func ReadFileIfExists(path string) ([]byte, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDirBestEffort(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
