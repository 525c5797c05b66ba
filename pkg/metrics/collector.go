// Package metrics экспортирует Prometheus метрики движка согласования сессий.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Виды сессий для метки kind
const (
	KindSingle = "single"
	KindMuji   = "muji"
)

// Направления кандидатов для метки direction
const (
	DirectionLocal  = "local"
	DirectionRemote = "remote"
)

// Config конфигурация сборщика метрик
type Config struct {
	// Namespace префикс метрик
	Namespace string

	// Subsystem подсистема метрик
	Subsystem string
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{Namespace: "jingle", Subsystem: "engine"}
}

// Collector собирает метрики сессий, станз и транзакций.
//
// Нулевой указатель допустим: все методы становятся пустыми операциями,
// поэтому компоненты могут работать без метрик.
type Collector struct {
	sessionsTotal      *prometheus.CounterVec
	sessionsActive     *prometheus.GaugeVec
	stanzasSent        *prometheus.CounterVec
	stanzasReceived    *prometheus.CounterVec
	transactionTimeout prometheus.Counter
	protocolErrors     *prometheus.CounterVec
	candidates         *prometheus.CounterVec
	stateTransitions   *prometheus.CounterVec
}

// New создает сборщик и регистрирует метрики в reg
func New(reg prometheus.Registerer, cfg Config) *Collector {
	if cfg.Namespace == "" {
		cfg = DefaultConfig()
	}
	f := promauto.With(reg)

	return &Collector{
		sessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "sessions_total",
			Help:      "Total number of Jingle sessions created",
		}, []string{"kind"}),
		sessionsActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "sessions_active",
			Help:      "Number of Jingle sessions not yet terminated",
		}, []string{"kind"}),
		stanzasSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "stanzas_sent_total",
			Help:      "Total number of Jingle stanzas sent by action",
		}, []string{"action"}),
		stanzasReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "stanzas_received_total",
			Help:      "Total number of Jingle stanzas received by action",
		}, []string{"action"}),
		transactionTimeout: f.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "transaction_timeouts_total",
			Help:      "Total number of requests that received no response in time",
		}),
		protocolErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "protocol_errors_total",
			Help:      "Total number of protocol errors replied to peers by condition",
		}, []string{"condition"}),
		candidates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "candidates_total",
			Help:      "Total number of ICE candidates by direction",
		}, []string{"direction"}),
		stateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "state_transitions_total",
			Help:      "Total number of session state transitions",
		}, []string{"from", "to"}),
	}
}

// SessionCreated учитывает новую сессию
func (c *Collector) SessionCreated(kind string) {
	if c == nil {
		return
	}
	c.sessionsTotal.WithLabelValues(kind).Inc()
	c.sessionsActive.WithLabelValues(kind).Inc()
}

// SessionEnded учитывает завершение сессии
func (c *Collector) SessionEnded(kind string) {
	if c == nil {
		return
	}
	c.sessionsActive.WithLabelValues(kind).Dec()
}

// StanzaSent учитывает отправленную станзу
func (c *Collector) StanzaSent(action string) {
	if c == nil {
		return
	}
	c.stanzasSent.WithLabelValues(action).Inc()
}

// StanzaReceived учитывает полученную станзу
func (c *Collector) StanzaReceived(action string) {
	if c == nil {
		return
	}
	c.stanzasReceived.WithLabelValues(action).Inc()
}

// TransactionTimeout учитывает таймаут запроса
func (c *Collector) TransactionTimeout() {
	if c == nil {
		return
	}
	c.transactionTimeout.Inc()
}

// ProtocolError учитывает ошибку отправленную удаленной стороне
func (c *Collector) ProtocolError(condition string) {
	if c == nil {
		return
	}
	c.protocolErrors.WithLabelValues(condition).Inc()
}

// Candidate учитывает ICE кандидат
func (c *Collector) Candidate(direction string) {
	if c == nil {
		return
	}
	c.candidates.WithLabelValues(direction).Inc()
}

// StateTransition учитывает переход состояния
func (c *Collector) StateTransition(from, to string) {
	if c == nil {
		return
	}
	c.stateTransitions.WithLabelValues(from, to).Inc()
}
