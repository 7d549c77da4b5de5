package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Conveyor/internal/domain"
)

// ErrNoCadence — у расписания нет ни cron_expr, ни interval_sec.
var ErrNoCadence = errors.New("schedule has neither cron_expr nor interval_sec")

// cronParser — парсер cron-выражений (5 полей).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CalculateNextDue вычисляет следующее время запуска после from.
// Cron считается в timezone расписания, результат в UTC.
func CalculateNextDue(sched *domain.Schedule, from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil || sched.Timezone == "" {
		loc = time.UTC
	}
	from = from.In(loc)

	switch {
	case sched.IsCron():
		parsed, err := cronParser.Parse(sched.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression %q: %w", sched.CronExpr, err)
		}
		return parsed.Next(from).UTC(), nil
	case sched.IsInterval():
		return from.Add(time.Duration(sched.IntervalSec) * time.Second).UTC(), nil
	default:
		return time.Time{}, ErrNoCadence
	}
}

// ValidateCronExpr проверяет cron-выражение.
func ValidateCronExpr(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Validate проверяет cadence и timezone расписания.
// Используется API при создании и изменении.
func Validate(sched *domain.Schedule) error {
	if sched.IsCron() {
		if err := ValidateCronExpr(sched.CronExpr); err != nil {
			return err
		}
	} else if !sched.IsInterval() {
		return ErrNoCadence
	}
	if sched.Timezone != "" {
		if _, err := time.LoadLocation(sched.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", sched.Timezone, err)
		}
	}
	return nil
}
