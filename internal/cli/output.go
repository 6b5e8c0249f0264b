package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Output — вывод результатов команд convoy.
//
// Данные (таблицы, JSON) пишутся в stdout, служебные сообщения — в stderr:
// `convoy run list --json | jq` получает на входе чистый JSON.
type Output struct {
	json bool
	data io.Writer
	msgs io.Writer
}

// NewOutput создаёт Output. jsonMode переключает табличный вывод на JSON.
func NewOutput(jsonMode bool) *Output {
	return &Output{
		json: jsonMode,
		data: os.Stdout,
		msgs: os.Stderr,
	}
}

// Print выводит результат команды в выбранном режиме:
// headers и rows для таблицы, payload для JSON.
func (o *Output) Print(headers []string, rows [][]string, payload any) {
	if o.json {
		o.JSON(payload)
		return
	}
	o.Table(headers, rows)
}

// Table печатает выровненную таблицу: заголовок, разделитель, строки.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.data, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	sep := make([]string, len(headers))
	for i, h := range headers {
		sep[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(sep, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
}

// JSON печатает payload с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.data)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(o.msgs, "Error: "+err.Error())
	}
}

// Success печатает подтверждение в stderr, не засоряя stdout.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.msgs, msg)
}
