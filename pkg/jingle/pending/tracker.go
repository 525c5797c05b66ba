// Package pending связывает отправленные запросы с ответами и таймаутами.
//
// Каждый запрос типа set регистрируется с обработчиком успеха и таймером с
// фиксированной задержкой. Для одной регистрации выполняется ровно один
// исход: ответ или таймаут.
package pending

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout задержка таймаута запроса по умолчанию
const DefaultTimeout = 10 * time.Second

// Key ключ регистрации: вид узла (single, muji), вид станзы и id транзакции
type Key struct {
	Node string
	Kind string
	ID   string
}

// Snapshot состояние сессии на момент отправки запроса
type Snapshot struct {
	SID    string
	Status string
}

// Registration параметры ожидания ответа
type Registration[R any] struct {
	// Snapshot состояние на момент отправки
	Snapshot Snapshot

	// Live возвращает текущее состояние сессии в момент срабатывания таймера
	Live func() Snapshot

	// Success вызывается с полученным ответом
	Success func(R)

	// Timeout вызывается для вызывающей стороны, Internal для протокольной
	// обработки (обычно принудительное завершение)
	Timeout  func()
	Internal func()
}

type entry[R any] struct {
	reg   Registration[R]
	timer Timer
}

// Tracker реестр ожидающих запросов
type Tracker[R any] struct {
	mu      sync.Mutex
	entries map[Key]*entry[R]

	delay  time.Duration
	sched  Scheduler
	logger zerolog.Logger
}

// Option настройка трекера
type Option func(*options)

type options struct {
	delay  time.Duration
	sched  Scheduler
	logger zerolog.Logger
}

// WithTimeout задает задержку таймаута
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithScheduler задает планировщик таймеров
func WithScheduler(s Scheduler) Option {
	return func(o *options) {
		if s != nil {
			o.sched = s
		}
	}
}

// WithLogger задает логгер
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// NewTracker создает трекер
func NewTracker[R any](opts ...Option) *Tracker[R] {
	o := options{delay: DefaultTimeout, sched: RealScheduler{}, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Tracker[R]{
		entries: make(map[Key]*entry[R]),
		delay:   o.delay,
		sched:   o.sched,
		logger:  o.logger.With().Str("component", "pending").Logger(),
	}
}

// Register регистрирует ожидание ответа и запускает таймер. Повторная
// регистрация того же ключа заменяет предыдущую без вызова ее обработчиков.
func (t *Tracker[R]) Register(key Key, reg Registration[R]) {
	e := &entry[R]{reg: reg}

	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.entries[key]; ok && old.timer != nil {
		old.timer.Stop()
	}
	t.entries[key] = e
	e.timer = t.sched.AfterFunc(t.delay, func() { t.fire(key, e) })
}

// Resolve завершает регистрацию полученным ответом: останавливает таймер и
// вызывает обработчик успеха. Возвращает false если регистрации нет.
func (t *Tracker[R]) Resolve(key Key, resp R) bool {
	t.mu.Lock()
	e, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	if e.reg.Success != nil {
		e.reg.Success(resp)
	}
	return true
}

// Forget удаляет регистрацию без вызова обработчиков
func (t *Tracker[R]) Forget(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return false
	}
	delete(t.entries, key)
	if e.timer != nil {
		e.timer.Stop()
	}
	return true
}

// Len возвращает число ожидающих регистраций
func (t *Tracker[R]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Tracker[R]) fire(key Key, e *entry[R]) {
	t.mu.Lock()
	cur, ok := t.entries[key]
	if !ok || cur != e {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.mu.Unlock()

	if e.reg.Live != nil && e.reg.Live() != e.reg.Snapshot {
		t.logger.Debug().Str("id", key.ID).Str("kind", key.Kind).
			Msg("Таймаут запроса проигнорирован: состояние сессии изменилось")
		return
	}

	t.logger.Warn().Str("id", key.ID).Str("kind", key.Kind).Str("sid", e.reg.Snapshot.SID).
		Dur("after", t.delay).Msg("Таймаут запроса")

	if e.reg.Timeout != nil {
		e.reg.Timeout()
	}
	if e.reg.Internal != nil {
		e.reg.Internal()
	}
}
