// Package metrics 暴露 zyndd 的 Prometheus 指标。
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zynd"

// 发布结果标签。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeContinued = "continued"
)

var (
	registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_request_errors_total",
		Help:      "Total number of HTTP requests that resulted in a server error.",
	}, []string{"handler", "method"})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})

	publishItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_items_total",
		Help:      "Agent publish attempts by outcome.",
	}, []string{"outcome"})

	publishJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_jobs_total",
		Help:      "Publish jobs that reached a final or retry state.",
	}, []string{"status"})

	settlements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "x402_settlements_total",
		Help:      "x402 settlement attempts by network and resulting HTTP status.",
	}, []string{"network", "code"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		httpErrors,
		httpLatency,
		publishItems,
		publishJobs,
		settlements,
	)
}

// Registry 返回进程内的指标注册表。
func Registry() *prometheus.Registry {
	return registry
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		httpErrors.WithLabelValues(handler, method).Inc()
	}
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObservePublish 记录单个条目的发布结果。
func ObservePublish(outcome string) {
	publishItems.WithLabelValues(outcome).Inc()
}

// ObserveJob 记录发布任务的状态变化。
func ObserveJob(status string) {
	publishJobs.WithLabelValues(status).Inc()
}

// ObserveSettlement 记录一次结算调用返回的状态码，status 为 0 表示调用出错。
func ObserveSettlement(network string, status int) {
	code := strconv.Itoa(status)
	if status == 0 {
		code = "error"
	}
	settlements.WithLabelValues(network, code).Inc()
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
