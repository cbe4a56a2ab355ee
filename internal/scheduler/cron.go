package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser — парсер 5-польных cron-выражений.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule — разобранное расписание в своей timezone.
type Schedule struct {
	expr     string
	schedule cron.Schedule
	loc      *time.Location
}

// ParseSchedule разбирает выражение и timezone. Пустая timezone — UTC.
func ParseSchedule(expr, timezone string) (*Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	loc := time.UTC
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
	}

	return &Schedule{expr: expr, schedule: sched, loc: loc}, nil
}

// String возвращает исходное выражение.
func (s *Schedule) String() string {
	return s.expr
}

// Next возвращает первый момент строго после from (в UTC).
func (s *Schedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from.In(s.loc)).UTC()
}

// LatestDue возвращает последний момент в (after, now].
// ok=false, если в интервале моментов нет.
// Несколько пропущенных моментов схлопываются в один, последний.
func (s *Schedule) LatestDue(after, now time.Time) (due time.Time, ok bool) {
	for next := s.Next(after); !next.After(now); next = s.Next(next) {
		due, ok = next, true
	}
	return due, ok
}

// keyPrefix — общий префикс ключей runs, запущенных по расписанию.
const keyPrefix = "schedule_"

// IdempotencyKey — ключ run для момента расписания.
func IdempotencyKey(due time.Time) string {
	return keyPrefix + strconv.FormatInt(due.Unix(), 10)
}

// ParseIdempotencyKey возвращает момент расписания из ключа run.
func ParseIdempotencyKey(key string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0).UTC(), true
}
