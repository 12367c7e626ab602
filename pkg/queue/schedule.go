package queue

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule determines when a periodic job runs next.
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(from time.Time) time.Time {
	return from.Add(s.every)
}

func (s intervalSchedule) String() string {
	return fmt.Sprintf("every %v", s.every)
}

type hourlySchedule struct {
	minute int
}

func (s hourlySchedule) Next(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), from.Hour(), s.minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.Add(time.Hour)
	}
	return next
}

func (s hourlySchedule) String() string {
	return fmt.Sprintf("hourly at :%02d", s.minute)
}

type dailySchedule struct {
	hour   int
	minute int
}

func (s dailySchedule) Next(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailySchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d", s.hour, s.minute)
}

// EveryInterval runs at a fixed interval from the previous run.
func EveryInterval(d time.Duration) Schedule {
	return intervalSchedule{every: d}
}

// HourlyAt runs every hour at the given minute.
func HourlyAt(minute int) Schedule {
	return hourlySchedule{minute: minute}
}

// DailyAt runs once a day at the given wall clock time, in the location of the
// time passed to Next.
func DailyAt(hour, minute int) Schedule {
	return dailySchedule{hour: hour, minute: minute}
}

// ParseSchedule reads the textual form used in configuration:
//
//	every 15m
//	hourly at :05
//	daily at 03:30
//
// The accepted forms match the String output of the schedules.
func ParseSchedule(s string) (Schedule, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	switch {
	case len(fields) == 2 && fields[0] == "every":
		d, err := time.ParseDuration(fields[1])
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
		}
		return EveryInterval(d), nil

	case len(fields) == 3 && fields[0] == "hourly" && fields[1] == "at":
		minute, err := strconv.Atoi(strings.TrimPrefix(fields[2], ":"))
		if err != nil || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
		}
		return HourlyAt(minute), nil

	case len(fields) == 3 && fields[0] == "daily" && fields[1] == "at":
		t, err := time.Parse("15:04", fields[2])
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
		}
		return DailyAt(t.Hour(), t.Minute()), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
}
