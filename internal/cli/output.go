package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

// Output управляет форматированием вывода CLI.
type Output struct {
	jsonMode bool
	w        io.Writer // stdout для данных
	errW     io.Writer // stderr для сообщений
}

// NewOutput создаёт Output. Если jsonMode=true, данные выводятся в JSON.
// noColor отключает раскраску статусов.
func NewOutput(jsonMode, noColor bool) *Output {
	if noColor || jsonMode {
		color.NoColor = true
	}
	return &Output{
		jsonMode: jsonMode,
		w:        os.Stdout,
		errW:     os.Stderr,
	}
}

// Print выводит данные: таблицу или JSON в зависимости от режима.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.jsonMode {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// Table выводит данные в виде таблицы через tabwriter.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}

// JSON выводит данные в формате JSON с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// Line выводит строку в stdout (потоковый вывод, events tail).
func (o *Output) Line(s string) {
	fmt.Fprintln(o.w, s)
}

// Success выводит сообщение об успехе в stderr.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, color.GreenString(msg))
}

// Error выводит сообщение об ошибке в stderr.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.errW, color.RedString("Error: ")+msg)
}

// Status раскрашивает статус execution, run или worker'а.
// tabwriter считает escape-коды шириной, поэтому раскраска
// одинакова для всех строк колонки.
func Status(s string) string {
	switch s {
	case "SUCCESS", "ONLINE":
		return color.GreenString(s)
	case "FAILED", "TIMEOUT", "NO_WORKER_FOUND", "MAJOR", "OFFLINE":
		return color.RedString(s)
	case "MINOR", "WARNING", "DISABLED":
		return color.YellowString(s)
	case "RUNNING", "PENDING", "INFORMATION":
		return color.CyanString(s)
	default:
		return s
	}
}

func joinTags(tags []string) string {
	if len(tags) == 0 {
		return "-"
	}
	return strings.Join(tags, ",")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
