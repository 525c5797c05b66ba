package session

import (
	"time"

	"github.com/arzzra/jingle/pkg/jingle/pending"
	"github.com/arzzra/jingle/pkg/metrics"
	"github.com/rs/zerolog"
)

// Протокольные значения по умолчанию
const (
	DefaultTimeout = pending.DefaultTimeout
	DefaultGrace   = 2 * time.Second
)

// Config параметры протокола
type Config struct {
	// Timeout задержка таймаута запроса
	Timeout time.Duration

	// Grace окно ожидания первого участника комнаты
	Grace time.Duration

	// IDPrefix префикс идентификаторов транзакций
	IDPrefix string

	// Constraints запрашиваемое локальное медиа
	Constraints Constraints

	// PeerConfig конфигурация соединений (ICE серверы)
	PeerConfig PeerConfig

	// RequireEncryption отклонять контенты без DTLS отпечатка
	RequireEncryption bool
}

// Env коллабораторы и настройки общие для всех сессий процесса
type Env struct {
	Transport Transport
	Media     MediaEngine
	Renderer  Renderer
	Scheduler pending.Scheduler
	Metrics   *metrics.Collector
	Logger    zerolog.Logger
	Config    Config
}

func (e *Env) timeout() time.Duration {
	if e.Config.Timeout > 0 {
		return e.Config.Timeout
	}
	return DefaultTimeout
}

func (e *Env) grace() time.Duration {
	if e.Config.Grace > 0 {
		return e.Config.Grace
	}
	return DefaultGrace
}

func (e *Env) scheduler() pending.Scheduler {
	if e.Scheduler != nil {
		return e.Scheduler
	}
	return pending.RealScheduler{}
}

func (e *Env) constraints() Constraints {
	c := e.Config.Constraints
	if !c.Audio && !c.Video {
		c.Audio = true
	}
	return c
}

func (e *Env) newTracker(scope string) *pending.Tracker[Outcome] {
	return pending.NewTracker[Outcome](
		pending.WithTimeout(e.timeout()),
		pending.WithScheduler(e.scheduler()),
		pending.WithLogger(e.Logger.With().Str("scope", scope).Logger()),
	)
}
