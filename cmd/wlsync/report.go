package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/John-Robertt/wlsync/internal/domain"
)

// emitReport：stdout 是终端时输出表格摘要；否则 stdout 必须且仅输出一个 RunReport JSON。
func emitReport(w io.Writer, rr domain.RunReport) error {
	if isTerminal(w) {
		_, err := io.WriteString(w, renderReport(rr))
		return err
	}
	return json.NewEncoder(w).Encode(rr)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func renderReport(rr domain.RunReport) string {
	s := rr.Summary
	sum := table.NewWriter()
	sum.SetStyle(table.StyleRounded)
	sum.AppendHeader(table.Row{"added", "planned", "existing", "skipped", "not found", "failed"})
	sum.AppendRow(table.Row{s.Added, s.Planned, s.Existing, s.Skipped, s.NotFound, s.Failed})

	out := sum.Render() + "\n"
	if rr.Aborted != "" {
		out += fmt.Sprintf("运行中止：%s\n", rr.Aborted)
	}

	rows := make([][]string, 0, 8)
	for _, it := range rr.Items {
		switch it.Status {
		case domain.StatusAdded, domain.StatusPlanned, domain.StatusNotFound, domain.StatusFailed:
		default:
			continue
		}
		id := ""
		if it.TMDBID != 0 {
			id = strconv.Itoa(it.TMDBID)
		}
		detail := it.MatchTitle
		if it.Status == domain.StatusNotFound {
			detail = "searched: " + it.Query
		}
		if it.Status == domain.StatusFailed {
			detail = fmt.Sprintf("HTTP %d %s", it.HTTPStatus, it.ErrorMsg)
		}
		rows = append(rows, []string{it.User, it.Title, it.Status, id, detail})
	}
	if len(rows) > 0 {
		out += renderTable([]string{"user", "title", "status", "tmdb", "detail"}, rows, []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft}) + "\n"
	}
	return out
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}
