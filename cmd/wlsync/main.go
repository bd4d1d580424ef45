package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

func main() {
	cmd := newRootCommand(os.Getwd)
	err := cmd.Execute()
	code := exitCode(err)
	if err != nil && !errors.Is(err, context.Canceled) {
		var ee *exitError
		// 已经由命令自身汇报过的错误（例如 run 的失败条目）不再重复打印。
		if !errors.As(err, &ee) || !ee.reported {
			fmt.Fprintf(os.Stderr, "错误：%v\n", err)
		}
	}
	os.Exit(code)
}

// exitError 携带进程退出码。
type exitError struct {
	code     int
	err      error
	reported bool
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error {
	return &exitError{code: exitUsage, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// cobra 对未知子命令返回的是普通 error。
	if strings.HasPrefix(err.Error(), "unknown command") {
		return exitUsage
	}
	return exitFail
}
