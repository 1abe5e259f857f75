package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of active websocket connections",
	})
	MessagesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Total number of chat messages sent",
	})
	MessagesMarkedReadTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_marked_read_total",
		Help: "Total number of read markers added to messages",
	})
	TypingUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_typing_updates_total",
		Help: "Typing indicator writes by action",
	}, []string{"action"})
	TypingExpiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_typing_expired_total",
		Help: "Stale typing indicators deleted, by the path that deleted them",
	}, []string{"path"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections,
		MessagesSentTotal,
		MessagesMarkedReadTotal,
		TypingUpdatesTotal,
		TypingExpiredTotal,
		HttpRequestsTotal,
		HttpRequestDuration,
	)
}

// GinMiddleware records request count and latency per route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
