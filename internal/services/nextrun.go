package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"deskflow/internal/models"
)

// Recurrence 下次运行计算的输入
type Recurrence struct {
	Frequency  string // daily, weekly, monthly, quarterly
	DayOfWeek  int    // 0=Sunday, weekly 时生效
	DayOfMonth int    // monthly 时生效
	TimeOfDay  string // "15:04"
	Timezone   string // IANA 名称，空为 UTC
}

// ValidateRecurrence 创建/编辑计划时校验；NextRun 本身对合法输入是全函数
func ValidateRecurrence(rec Recurrence) error {
	switch rec.Frequency {
	case models.FrequencyDaily, models.FrequencyWeekly, models.FrequencyMonthly, models.FrequencyQuarterly:
	default:
		return fmt.Errorf("%w: unsupported frequency %q", ErrInvalidSchedule, rec.Frequency)
	}
	if _, _, err := parseTimeOfDay(rec.TimeOfDay); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	if _, err := loadLocation(rec.Timezone); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidSchedule, rec.Timezone)
	}
	if rec.Frequency == models.FrequencyWeekly && (rec.DayOfWeek < 0 || rec.DayOfWeek > 6) {
		return fmt.Errorf("%w: day_of_week must be 0-6", ErrInvalidSchedule)
	}
	if rec.Frequency == models.FrequencyMonthly && (rec.DayOfMonth < 1 || rec.DayOfMonth > 31) {
		return fmt.Errorf("%w: day_of_month must be 1-31", ErrInvalidSchedule)
	}
	return nil
}

// NextRun 计算严格晚于 now 的下一次运行时刻。
// 基线 = 当天 time；基线不晚于 now 则推到明天同一时刻。
//   - daily: 基线即答案
//   - weekly: 从基线逐天推进到目标星期
//   - monthly: 基线月份取 day_of_month；不晚于 now 则推进一个日历月。
//     日期溢出沿用原生翻滚（31 号进 30 天的月翻入下月），不做钳制。
//   - quarterly: 严格晚于基线月份的下一个季度首月 1 号，保留 time
func NextRun(rec Recurrence, now time.Time) (time.Time, error) {
	hour, minute, err := parseTimeOfDay(rec.TimeOfDay)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	loc, err := loadLocation(rec.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: unknown timezone %q", ErrInvalidSchedule, rec.Timezone)
	}

	local := now.In(loc)
	baseline := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !baseline.After(now) {
		baseline = baseline.AddDate(0, 0, 1)
	}

	switch rec.Frequency {
	case models.FrequencyDaily:
		return baseline, nil

	case models.FrequencyWeekly:
		for baseline.Weekday() != time.Weekday(rec.DayOfWeek) {
			baseline = baseline.AddDate(0, 0, 1)
		}
		return baseline, nil

	case models.FrequencyMonthly:
		// time.Date 规范化保留翻滚语义
		candidate := time.Date(baseline.Year(), baseline.Month(), rec.DayOfMonth, hour, minute, 0, 0, loc)
		if !candidate.After(now) {
			candidate = time.Date(baseline.Year(), baseline.Month()+1, rec.DayOfMonth, hour, minute, 0, 0, loc)
		}
		return candidate, nil

	case models.FrequencyQuarterly:
		// 季度首月：一月、四月、七月、十月；取严格晚于基线月份的下一个边界
		year, month := baseline.Year(), int(baseline.Month())
		next := 0
		for _, boundary := range []int{1, 4, 7, 10} {
			if boundary > month {
				next = boundary
				break
			}
		}
		if next == 0 {
			year++
			next = 1
		}
		return time.Date(year, time.Month(next), 1, hour, minute, 0, 0, loc), nil

	default:
		return time.Time{}, fmt.Errorf("%w: unsupported frequency %q", ErrInvalidSchedule, rec.Frequency)
	}
}

func parseTimeOfDay(s string) (int, int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed time %q, want HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("malformed hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("malformed minute in %q", s)
	}
	return hour, minute, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
