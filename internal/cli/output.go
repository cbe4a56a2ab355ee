package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// Output печатает runs таблицей или JSON.
//
// Данные идут в out, служебные сообщения в msg, чтобы `--json` вывод
// можно было передать дальше по pipe.
type Output struct {
	json bool
	out  io.Writer
	msg  io.Writer
}

// NewOutput создаёт Output.
func NewOutput(jsonMode bool, out, msg io.Writer) *Output {
	return &Output{json: jsonMode, out: out, msg: msg}
}

// Notice пишет служебное сообщение.
func (o *Output) Notice(format string, args ...any) {
	fmt.Fprintf(o.msg, format+"\n", args...)
}

var runColumns = []string{"ID", "STATE", "STEP", "ERROR_CODE", "CREATED", "DURATION"}

// Runs печатает список runs, по строке на run.
func (o *Output) Runs(runs []RunResponse) error {
	if o.json {
		return o.encode(runs)
	}
	rows := make([][]string, len(runs))
	for i := range runs {
		rows[i] = runRow(&runs[i])
	}
	return o.table(runColumns, rows)
}

// Run печатает run и, если шаги уже выполнялись, их результаты.
func (o *Output) Run(run *RunResponse) error {
	if o.json {
		return o.encode(run)
	}
	if err := o.table(runColumns, [][]string{runRow(run)}); err != nil {
		return err
	}
	if len(run.Steps) == 0 {
		return nil
	}

	rows := make([][]string, len(run.Steps))
	for i, s := range run.Steps {
		result := "ok"
		if !s.Success {
			result = s.ErrorCode
		}
		rows[i] = []string{s.Step, result, millis(s.DurationMs), s.Error}
	}
	fmt.Fprintln(o.out)
	return o.table([]string{"STEP", "RESULT", "DURATION", "ERROR"}, rows)
}

// runRow — строка таблицы; для упавшего run в колонке STEP стоит упавший шаг.
func runRow(r *RunResponse) []string {
	step := r.CurrentStep
	if r.FailedStep != "" {
		step = r.FailedStep
	}
	return []string{r.ID, r.DisplayName, step, r.ErrorCode, r.CreatedAt, millis(r.DurationMs)}
}

func millis(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return (time.Duration(ms) * time.Millisecond).String()
}

func (o *Output) table(columns []string, rows [][]string) error {
	tw := tabwriter.NewWriter(o.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(columns, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func (o *Output) encode(v any) error {
	enc := json.NewEncoder(o.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
