// Registers:
//
//	#CryptoTrader_client_connections
//	#CryptoTrader_stream_subscriptions
//	#CryptoTrader_messages_forwarded_total
//	#CryptoTrader_messages_dropped_total
//	#CryptoTrader_commands_total
//	#CryptoTrader_orders_total
//	#go_* and process_* system metrics
//
// Exposes them on the configured address using Prometheus HTTP handler
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once              sync.Once
	clientConnections prometheus.Gauge
	subscriptions     *prometheus.GaugeVec
	messagesForwarded *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec
	commands          *prometheus.CounterVec
	orders            *prometheus.CounterVec
)

// Init registers the collectors and serves /metrics on addr.
// An empty addr registers the collectors without starting the HTTP server.
func Init(addr string) {
	once.Do(func() {
		clientConnections = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "CryptoTrader_client_connections",
				Help: "Number of websocket clients currently connected",
			},
		)

		subscriptions = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "CryptoTrader_stream_subscriptions",
				Help: "Number of active upstream subscriptions",
			},
			[]string{"kind"},
		)

		messagesForwarded = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "CryptoTrader_messages_forwarded_total",
				Help: "Number of stream messages forwarded to clients",
			},
			[]string{"kind"},
		)

		messagesDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "CryptoTrader_messages_dropped_total",
				Help: "Number of stream messages dropped on slow clients",
			},
			[]string{"kind"},
		)

		commands = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "CryptoTrader_commands_total",
				Help: "Number of client commands received",
			},
			[]string{"action"},
		)

		orders = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "CryptoTrader_orders_total",
				Help: "Number of orders submitted to the exchange",
			},
			[]string{"type"},
		)

		_ = prometheus.Register(clientConnections)
		_ = prometheus.Register(subscriptions)
		_ = prometheus.Register(messagesForwarded)
		_ = prometheus.Register(messagesDropped)
		_ = prometheus.Register(commands)
		_ = prometheus.Register(orders)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		if addr == "" {
			return
		}

		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, nil); err != nil {
				panic("metrics server failed: " + err.Error())
			}
		}()
	})
}

// ConnectionOpened increases the connected client gauge.
func ConnectionOpened() {
	if clientConnections != nil {
		clientConnections.Inc()
	}
}

// ConnectionClosed decreases the connected client gauge.
func ConnectionClosed() {
	if clientConnections != nil {
		clientConnections.Dec()
	}
}

// SubscriptionStarted increases the subscription gauge for a stream kind.
func SubscriptionStarted(kind string) {
	if subscriptions != nil {
		subscriptions.WithLabelValues(kind).Inc()
	}
}

// SubscriptionStopped decreases the subscription gauge for a stream kind.
func SubscriptionStopped(kind string) {
	if subscriptions != nil {
		subscriptions.WithLabelValues(kind).Dec()
	}
}

// IncrementForwarded increases the forwarded counter for a stream kind.
func IncrementForwarded(kind string) {
	if messagesForwarded != nil {
		messagesForwarded.WithLabelValues(kind).Inc()
	}
}

// IncrementDropped increases the dropped counter for a stream kind.
func IncrementDropped(kind string) {
	if messagesDropped != nil {
		messagesDropped.WithLabelValues(kind).Inc()
	}
}

// IncrementCommand increases the command counter for a client action.
func IncrementCommand(action string) {
	if commands != nil {
		commands.WithLabelValues(action).Inc()
	}
}

// IncrementOrder increases the order counter for an order type.
func IncrementOrder(orderType string) {
	if orders != nil {
		orders.WithLabelValues(orderType).Inc()
	}
}
