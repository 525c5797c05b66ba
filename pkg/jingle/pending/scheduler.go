package pending

import (
	"sync"
	"time"
)

// Timer остановка запланированного вызова
type Timer interface {
	Stop() bool
}

// Scheduler планирует отложенные вызовы
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealScheduler планировщик на основе time.AfterFunc
type RealScheduler struct{}

// AfterFunc реализует Scheduler
func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualScheduler планировщик с ручным срабатыванием таймеров.
// Используется в тестах для детерминированной проверки таймаутов.
type ManualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	sched   *ManualScheduler
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

// NewManualScheduler создает ручной планировщик
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// AfterFunc реализует Scheduler
func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{sched: s, delay: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Pending возвращает число активных таймеров
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// FireAll вызывает все активные таймеры в порядке создания и возвращает их число.
// Таймеры созданные во время срабатывания не вызываются.
func (s *ManualScheduler) FireAll() int {
	s.mu.Lock()
	var due []*manualTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		t.f()
	}
	return len(due)
}

// FireNext вызывает самый ранний активный таймер. Возвращает false если
// активных таймеров нет.
func (s *ManualScheduler) FireNext() bool {
	s.mu.Lock()
	var next *manualTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next != nil {
		next.fired = true
	}
	s.mu.Unlock()

	if next == nil {
		return false
	}
	next.f()
	return true
}
