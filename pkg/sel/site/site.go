// Package site orchestrates one running SEL program against live metric
// updates: event-rule evaluation, schedule polling, cooldown-respecting
// dispatch, and an optional websocket event feed for observers. It plays
// the role pkg/descry.Engine plays for the teacher, generalized to SEL's
// domain and deliberately without the teacher's resource-sandboxing
// machinery (spec.md §5: "the core never suspends, kills, or resource-caps
// a rule").
package site

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sourceful/sel/pkg/sel/ast"
	"github.com/sourceful/sel/pkg/sel/compiler"
	"github.com/sourceful/sel/pkg/sel/dispatch"
	"github.com/sourceful/sel/pkg/sel/runtime"
	"github.com/sourceful/sel/pkg/sel/scheduler"
)

// Event is a single notable occurrence a Site reports to its observers: a
// rule trigger ("rule_triggered") or a schedule firing
// ("schedule_triggered"). Evaluation errors are logged, not emitted.
type Event struct {
	Kind      string    `json:"kind"`
	RuleID    string    `json:"rule_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Site runs a single compiled program against one stream of metric
// updates.
type Site struct {
	mu         sync.RWMutex
	program    *ast.Program
	compiled   *compiler.CompiledProgram
	runtime    *runtime.Runtime
	scheduler  *scheduler.Scheduler
	dispatcher *dispatch.Dispatcher
	log        zerolog.Logger

	tickInterval time.Duration
	latest       runtime.MetricValues
	haveLatest   bool

	running   bool
	stopCh    chan struct{}
	observers []func(Event)
}

// New returns a Site for program, ready to Start. The program is not
// compiled here; Start compiles it (for history sizing) and reports any
// compile error, so construction never fails.
func New(program *ast.Program, dispatcher *dispatch.Dispatcher, log zerolog.Logger) *Site {
	return &Site{
		program:      program,
		dispatcher:   dispatcher,
		log:          log,
		tickInterval: time.Second,
		stopCh:       make(chan struct{}),
	}
}

// Observe registers fn to receive every Event this Site reports. Observers
// are called synchronously from the evaluation loop; fn must not block.
func (s *Site) Observe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Start compiles the program, builds a Runtime sized to its required
// history window, and begins the evaluation loop. Start is idempotent.
func (s *Site) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	compiled, err := compiler.New().Compile(s.program)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.compiled = compiled

	rt := runtime.New()
	if compiled.RequiresHistory && compiled.MaxHistorySeconds != nil {
		rt = runtime.NewWithHistoryWindow(*compiled.MaxHistorySeconds)
	}
	rt.LoadVariables(s.program)
	s.runtime = rt
	s.scheduler = scheduler.New()

	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	go s.loop(stopCh)
	return nil
}

// Stop halts the evaluation loop. Stop is idempotent.
func (s *Site) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
}

// IsRunning reports whether the Site's evaluation loop is active.
func (s *Site) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// UpdateMetrics records a fresh metric snapshot, appends it to history, and
// immediately evaluates every event rule against it.
func (s *Site) UpdateMetrics(metrics runtime.MetricValues) {
	s.mu.Lock()
	s.latest = metrics
	s.haveLatest = true
	rt := s.runtime
	running := s.running
	s.mu.Unlock()

	if !running || rt == nil {
		return
	}

	rt.RecordHistory(metrics, time.Now().UnixMilli())
	s.evaluateEventRules(metrics)
}

func (s *Site) loop(stopCh chan struct{}) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkSchedules()
		case <-stopCh:
			return
		}
	}
}

func (s *Site) evaluateEventRules(metrics runtime.MetricValues) {
	s.mu.RLock()
	program := s.program
	rt := s.runtime
	s.mu.RUnlock()

	results, err := rt.EvaluateAll(program, metrics)
	if err != nil {
		s.log.Error().Str("component", "sel").Err(err).Msg("rule evaluation failed")
		return
	}

	for _, result := range results {
		if !result.Triggered {
			continue
		}
		s.emit(Event{Kind: "rule_triggered", RuleID: result.RuleID, Timestamp: time.Now()})
		for _, actionResult := range s.dispatcher.DispatchAll(result.Actions) {
			if !actionResult.Success {
				s.log.Warn().Str("component", "sel").Str("rule_id", result.RuleID).
					Str("detail", actionResult.Message).Msg("action dispatch failed")
			}
		}
	}
}

func (s *Site) checkSchedules() {
	s.mu.RLock()
	program := s.program
	sched := s.scheduler
	rt := s.runtime
	metrics := s.latest
	haveLatest := s.haveLatest
	s.mu.RUnlock()

	now := scheduler.Now()

	for _, rule := range program.Rules {
		sr, ok := rule.(ast.ScheduleRule)
		if !ok {
			continue
		}
		if !sched.ShouldTrigger(sr, now) {
			continue
		}

		sched.RecordTrigger(sr.ID, now.Timestamp)
		s.emit(Event{Kind: "schedule_triggered", RuleID: sr.ID, Timestamp: time.Now()})

		snapshot := metrics
		if !haveLatest {
			snapshot = runtime.NewMetricValues()
		}
		actions, err := rt.EvaluateScheduleActions(sr.Actions, snapshot)
		if err != nil {
			s.log.Error().Str("component", "sel").Err(err).Str("rule_id", sr.ID).Msg("schedule action evaluation failed")
			continue
		}
		s.dispatcher.DispatchAll(actions)
	}
}

func (s *Site) emit(event Event) {
	s.mu.RLock()
	observers := make([]func(Event), len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()

	for _, fn := range observers {
		fn(event)
	}
}

// Compiled returns the Site's compiled program, or nil before Start.
func (s *Site) Compiled() *compiler.CompiledProgram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compiled
}
