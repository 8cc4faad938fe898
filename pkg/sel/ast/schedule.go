package ast

import "encoding/json"

// Schedule is one of Interval, Calendar, or Cron.
type Schedule interface {
	isSchedule()
	json.Marshaler
}

// IntervalSchedule fires every interval, checked via Scheduler.CheckInterval
// rather than the calendar should_trigger gate.
type IntervalSchedule struct{ IntervalSeconds uint64 }

func (IntervalSchedule) isSchedule() {}
func (s IntervalSchedule) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ScheduleType    string `json:"schedule_type"`
		IntervalSeconds uint64 `json:"interval_seconds"`
	}{"Interval", s.IntervalSeconds})
}

// CalendarFrequency is Daily, Weekly, Monthly, or Yearly.
type CalendarFrequency int

const (
	Daily CalendarFrequency = iota
	Weekly
	Monthly
	Yearly
)

var calendarFrequencyWire = map[CalendarFrequency]string{
	Daily: "daily", Weekly: "weekly", Monthly: "monthly", Yearly: "yearly",
}

func (f CalendarFrequency) String() string { return calendarFrequencyWire[f] }

func (f CalendarFrequency) MarshalJSON() ([]byte, error) { return json.Marshal(f.String()) }

// CalendarSchedule is always produced by the surface grammar (§4.2); Cron
// and Interval schedules have no surface syntax of their own in v1.
type CalendarSchedule struct {
	Frequency CalendarFrequency
	At        TimeOfDay
	On        *uint8
}

func (CalendarSchedule) isSchedule() {}
func (s CalendarSchedule) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ScheduleType string            `json:"schedule_type"`
		Frequency    CalendarFrequency `json:"frequency"`
		At           TimeOfDay         `json:"at"`
		On           *uint8            `json:"on,omitempty"`
	}{"Calendar", s.Frequency, s.At, s.On})
}

// CronSchedule is parsed but never fires (Non-goal per spec.md §1).
type CronSchedule struct{ Expression string }

func (CronSchedule) isSchedule() {}
func (s CronSchedule) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ScheduleType string `json:"schedule_type"`
		Expression   string `json:"expression"`
	}{"Cron", s.Expression})
}
