package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_sessions",
		Help: "Current number of authenticated websocket sessions",
	})
	WsFramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_frames_total",
		Help: "Total number of inbound websocket frames by message type",
	}, []string{"type"})
	HandlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_handler_duration_seconds",
		Help:    "Message handler latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type", "outcome"})
	FanoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_fanout_total",
		Help: "Live frame deliveries to connected sessions by outcome",
	}, []string{"outcome"})
	PushFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_push_failures_total",
		Help: "Failed push gateway calls by operation",
	}, []string{"op"})
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
	prometheus.MustRegister(WsConnections, WsFramesTotal, HandlerDuration, FanoutTotal, PushFailuresTotal, HttpRequestsTotal, HttpRequestDuration)
}

// ObserveHandler 记录一次消息处理的耗时与结果。
func ObserveHandler(msgType string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	HandlerDuration.WithLabelValues(msgType, outcome).Observe(time.Since(start).Seconds())
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
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
