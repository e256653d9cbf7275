package monitor

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"kelvin-core/pkg/errno"
)

var (
	// DeviceExchangesTotal 记录设备指令次数，status 为设备状态码或失败阶段
	DeviceExchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kelvin_device_exchanges_total",
		Help: "Total number of commands sent to the signing device.",
	}, []string{"command", "status"})

	DeviceExchangeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kelvin_device_exchange_duration_seconds",
		Help:    "Time from opening the device to receiving its response.",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"command"})

	// NetworkCallsTotal 记录对区块链服务的调用
	NetworkCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kelvin_network_calls_total",
		Help: "Total number of calls to blockchain services.",
	}, []string{"currency", "op", "result"})

	NetworkCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kelvin_network_call_duration_seconds",
		Help:    "Latency of calls to blockchain services.",
		Buckets: []float64{0.1, 0.3, 0.5, 1.0, 2.0, 5.0}, // 关键耗时桶
	}, []string{"currency", "op"})

	// SignedTransactionsTotal 记录完成签名的交易
	SignedTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kelvin_signed_transactions_total",
		Help: "Total number of transactions finalized with a device signature.",
	}, []string{"currency", "network"})

	// HTTPRequestsTotal 记录 HTTP 请求总量
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration 记录 HTTP 请求耗时 (Histogram)
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency distributions.",
		Buckets: []float64{0.1, 0.3, 0.5, 1.0, 2.0, 5.0},
	}, []string{"method", "path"})
)

func ObserveDeviceExchange(command uint16, status string, d time.Duration) {
	label := fmt.Sprintf("0x%04x", command)
	DeviceExchangesTotal.WithLabelValues(label, status).Inc()
	DeviceExchangeDuration.WithLabelValues(label).Observe(d.Seconds())
}

// ObserveNetworkCall 按错误类型归类调用结果
func ObserveNetworkCall(currency, op string, start time.Time, err error) {
	NetworkCallsTotal.WithLabelValues(currency, op, resultLabel(err)).Inc()
	NetworkCallDuration.WithLabelValues(currency, op).Observe(time.Since(start).Seconds())
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errno.ErrRejected):
		return "rejected"
	case errors.Is(err, errno.ErrUnfulfillable):
		return "unfulfillable"
	case errors.Is(err, errno.ErrInvalidArgument):
		return "invalid"
	default:
		return "error"
	}
}

// WriteTextfile 导出当前指标，供 node_exporter 的 textfile collector 采集
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// PrometheusMiddleware returns a gin middleware for monitoring
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath() // 使用路由模板 /api/v1/currencies/:currency 而不是具体路径

		// 处理请求
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		// 记录指标
		if path != "" { // 忽略 404 等未匹配路由
			HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
			HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
		}
	}
}
