package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesSeen = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_seen_total",
		Help: "Полученные сообщения отслеживаемых каналов",
	}, []string{"source"})

	MessagesFiltered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_filtered_total",
		Help: "Сообщения и группы, отброшенные фильтрами",
	}, []string{"scope", "reason"})

	ForwardsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_forwards_total",
		Help: "Итоги доставки по направлениям",
	}, []string{"strategy", "status"})

	GroupsBuffered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_groups_buffered",
		Help: "Медиагруппы, собираемые в данный момент",
	})

	GroupsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_groups_completed_total",
		Help: "Завершённые медиагруппы по причине завершения",
	}, []string{"trigger"})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_queue_depth",
		Help: "Текущая глубина очереди запросов",
	})

	QueueRejects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_queue_rejects_total",
		Help: "Запросы, отвергнутые переполненной очередью",
	})

	StreamDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_stream_dropped_total",
		Help: "Сообщения, потерянные на переполненном приёмном потоке",
	})

	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_reconnects_total",
		Help: "Попытки переподключения к платформе",
	})

	ConnectionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connection_state",
		Help: "Текущее состояние подключения (порядковый номер)",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		MessagesSeen,
		MessagesFiltered,
		ForwardsTotal,
		GroupsBuffered,
		GroupsCompleted,
		QueueDepth,
		QueueRejects,
		StreamDropped,
		Reconnects,
		ConnectionState,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}
