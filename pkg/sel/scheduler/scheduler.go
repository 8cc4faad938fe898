// Package scheduler evaluates time-based (EVERY ...) rules: calendar
// triggers gated by a monotonic anti-double-fire guard plus a
// same-period idempotence check, and interval triggers checked
// separately via CheckInterval.
package scheduler

import (
	"sync"
	"time"

	"github.com/sourceful/sel/pkg/sel/ast"
)

// DateTime is a proleptic-Gregorian decomposition of a Unix timestamp, used
// in place of a full calendar library so the scheduler's arithmetic stays
// self-contained and testable against fixed timestamps.
type DateTime struct {
	Year      uint16
	Month     uint8 // 1-12
	Day       uint8 // 1-31
	Weekday   uint8 // 1-7, Monday = 1
	Hour      uint8
	Minute    uint8
	Second    uint8
	Timestamp uint64
}

// FromTimestamp decomposes a Unix timestamp (seconds) into a DateTime.
func FromTimestamp(ts uint64) DateTime {
	daysSinceEpoch := int64(ts / 86400)
	timeOfDay := ts % 86400

	hour := uint8(timeOfDay / 3600)
	minute := uint8((timeOfDay % 3600) / 60)
	second := uint8(timeOfDay % 60)

	// 1970-01-01 was a Thursday (weekday 4 in a Monday=1 scheme).
	weekday := uint8((daysSinceEpoch+3)%7 + 1)

	year, month, day := daysToYMD(daysSinceEpoch)

	return DateTime{
		Year: uint16(year), Month: uint8(month), Day: uint8(day),
		Weekday: weekday, Hour: hour, Minute: minute, Second: second,
		Timestamp: ts,
	}
}

// Now returns the current wall-clock time decomposed as a DateTime.
func Now() DateTime {
	return FromTimestamp(uint64(time.Now().Unix()))
}

func daysToYMD(days int64) (year, month, day int) {
	remaining := days
	year = 1970

	for {
		daysInYear := int64(365)
		if isLeapYear(year) {
			daysInYear = 366
		}
		if remaining < daysInYear {
			break
		}
		remaining -= daysInYear
		year++
	}

	daysInMonths := [12]int64{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
	if isLeapYear(year) {
		daysInMonths[1] = 29
	}

	month = 1
	for _, dim := range daysInMonths {
		if remaining < dim {
			break
		}
		remaining -= dim
		month++
	}

	return year, month, int(remaining) + 1
}

func isLeapYear(year int) bool {
	return (year%4 == 0 && year%100 != 0) || year%400 == 0
}

// State holds per-rule trigger bookkeeping: a monotonic clock reading (for
// the anti-double-fire guard) and the last trigger's wall-clock timestamp
// (for the same-period idempotence check and for persistence).
type State struct {
	mu              sync.RWMutex
	lastTriggered   map[string]time.Time
	lastTriggeredTs map[string]uint64
}

// NewState returns an empty State.
func NewState() *State {
	return &State{lastTriggered: make(map[string]time.Time), lastTriggeredTs: make(map[string]uint64)}
}

// RecordTrigger records ruleID as having fired at timestamp (Unix seconds).
func (s *State) RecordTrigger(ruleID string, timestamp uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTriggered[ruleID] = time.Now()
	s.lastTriggeredTs[ruleID] = timestamp
}

// LastTriggerTs returns ruleID's last recorded trigger timestamp, if any.
func (s *State) LastTriggerTs(ruleID string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.lastTriggeredTs[ruleID]
	return ts, ok
}

// CanTrigger reports whether at least minInterval has elapsed (by
// monotonic clock) since ruleID last fired.
func (s *State) CanTrigger(ruleID string, minInterval time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	last, ok := s.lastTriggered[ruleID]
	if !ok {
		return true
	}
	return time.Since(last) >= minInterval
}

// Scheduler evaluates ScheduleRule triggers against a State.
type Scheduler struct {
	state *State
}

// New returns a Scheduler with fresh state.
func New() *Scheduler {
	return &Scheduler{state: NewState()}
}

// WithState returns a Scheduler backed by an existing State, for resuming
// after a restart.
func WithState(state *State) *Scheduler {
	return &Scheduler{state: state}
}

// State returns the scheduler's underlying State, for persistence.
func (s *Scheduler) State() *State { return s.state }

// ShouldTrigger reports whether rule should fire at now. This is the
// calendar-schedule entry point; interval schedules use CheckInterval.
func (s *Scheduler) ShouldTrigger(rule ast.ScheduleRule, now DateTime) bool {
	if !rule.Enabled {
		return false
	}

	// A 60-second monotonic guard prevents a rule from firing twice for the
	// same evaluation tick.
	if !s.state.CanTrigger(rule.ID, 60*time.Second) {
		return false
	}

	if lastTs, ok := s.state.LastTriggerTs(rule.ID); ok {
		last := FromTimestamp(lastTs)
		if alreadyTriggeredInPeriod(rule.Schedule, last, now) {
			return false
		}
	}

	return matchesSchedule(rule.Schedule, now)
}

func matchesSchedule(schedule ast.Schedule, now DateTime) bool {
	switch sched := schedule.(type) {
	case ast.CalendarSchedule:
		return matchesCalendar(sched, now)
	case ast.IntervalSchedule:
		// Interval schedules trigger on elapsed time, not clock time; use
		// CheckInterval instead.
		return false
	case ast.CronSchedule:
		// Cron expressions are parsed but never fire (Non-goal).
		return false
	default:
		return false
	}
}

func matchesCalendar(cal ast.CalendarSchedule, now DateTime) bool {
	if now.Hour != cal.At.Hour || now.Minute != cal.At.Minute {
		return false
	}

	// Only trigger within the first 60 seconds of the matching minute; this
	// is always true since Second < 60, matching the original's dead
	// condition (kept rather than "fixed").
	if now.Second >= 60 {
		return false
	}

	switch cal.Frequency {
	case ast.Daily:
		return true
	case ast.Weekly:
		if cal.On != nil {
			return now.Weekday == *cal.On
		}
		return now.Weekday == 1
	case ast.Monthly:
		if cal.On != nil {
			return now.Day == *cal.On
		}
		return now.Day == 1
	case ast.Yearly:
		if cal.On != nil {
			return now.Day == *cal.On && now.Month == 1
		}
		return now.Day == 1 && now.Month == 1
	default:
		return false
	}
}

// alreadyTriggeredInPeriod reports whether last and now fall in the same
// calendar period for schedule's frequency. Weekly intentionally collapses
// to "same day" rather than "same ISO week" — a deliberately preserved
// quirk (see DESIGN.md #3): a Weekly rule whose single trigger lands near
// midnight is idempotent against same-day re-evaluation but not against
// the rest of its target week.
func alreadyTriggeredInPeriod(schedule ast.Schedule, last, now DateTime) bool {
	cal, ok := schedule.(ast.CalendarSchedule)
	if !ok {
		return false
	}

	switch cal.Frequency {
	case ast.Daily, ast.Weekly:
		return last.Year == now.Year && last.Month == now.Month && last.Day == now.Day
	case ast.Monthly:
		return last.Year == now.Year && last.Month == now.Month
	case ast.Yearly:
		return last.Year == now.Year
	default:
		return false
	}
}

// CheckInterval reports whether an Interval-scheduled rule should fire at
// nowTs (Unix seconds).
func (s *Scheduler) CheckInterval(rule ast.ScheduleRule, nowTs uint64) bool {
	if !rule.Enabled {
		return false
	}

	interval, ok := rule.Schedule.(ast.IntervalSchedule)
	if !ok {
		return false
	}

	lastTs, ok := s.state.LastTriggerTs(rule.ID)
	if !ok {
		return true
	}
	return nowTs >= lastTs+interval.IntervalSeconds
}

// RecordTrigger records that rule fired at timestamp (Unix seconds).
func (s *Scheduler) RecordTrigger(ruleID string, timestamp uint64) {
	s.state.RecordTrigger(ruleID, timestamp)
}

// NextTrigger predicts the next Unix timestamp at which rule will fire,
// relative to now. This is a supplemental capability (not present in the
// distilled spec) useful for a "next run" CLI/dashboard display.
func (s *Scheduler) NextTrigger(rule ast.ScheduleRule, now DateTime) (uint64, bool) {
	if !rule.Enabled {
		return 0, false
	}

	switch sched := rule.Schedule.(type) {
	case ast.CalendarSchedule:
		return s.nextCalendarTrigger(sched, now)
	case ast.IntervalSchedule:
		if lastTs, ok := s.state.LastTriggerTs(rule.ID); ok {
			return lastTs + sched.IntervalSeconds, true
		}
		return now.Timestamp, true
	default:
		return 0, false
	}
}

func (s *Scheduler) nextCalendarTrigger(cal ast.CalendarSchedule, now DateTime) (uint64, bool) {
	targetHour, targetMinute := cal.At.Hour, cal.At.Minute

	nextTs := now.Timestamp
	check := FromTimestamp(nextTs)

	if check.Hour > targetHour || (check.Hour == targetHour && check.Minute >= targetMinute) {
		nextTs += 86400
		check = FromTimestamp(nextTs)
	}

	timeDiff := (int64(targetHour)-int64(check.Hour))*3600 +
		(int64(targetMinute)-int64(check.Minute))*60 -
		int64(check.Second)
	nextTs = uint64(int64(nextTs) + timeDiff)
	check = FromTimestamp(nextTs)

	for i := 0; i < 366; i++ {
		if matchesCalendar(cal, check) || dayMatchesFrequency(cal, check) {
			return nextTs, true
		}
		nextTs += 86400
		check = FromTimestamp(nextTs)
	}

	return 0, false
}

func dayMatchesFrequency(cal ast.CalendarSchedule, dt DateTime) bool {
	switch cal.Frequency {
	case ast.Daily:
		return true
	case ast.Weekly:
		if cal.On != nil {
			return dt.Weekday == *cal.On
		}
		return dt.Weekday == 1
	case ast.Monthly:
		if cal.On != nil {
			return dt.Day == *cal.On
		}
		return dt.Day == 1
	case ast.Yearly:
		if cal.On != nil {
			return dt.Day == *cal.On && dt.Month == 1
		}
		return dt.Day == 1 && dt.Month == 1
	default:
		return false
	}
}
