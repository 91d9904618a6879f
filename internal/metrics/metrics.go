// ============================================================================
// PTIDES Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集 scheduler 的執行指標並透過 /metrics 暴露
//
// 指標分類:
//
//   1. 計數器 (Counter):
//      - ptides_events_admitted_total{source}: 經中斷進入佇列的事件
//      - ptides_events_dispatched_total{actor}: 派送給各演員的事件
//      - ptides_events_adjusted_total: 靜態時序分析重新排序的事件
//      - ptides_actuations_total{actor}: 成功的致動
//      - ptides_deadline_misses_total{actor}: 錯過的截止時間
//      - ptides_timer_arms_total: 計時器重新設定次數
//
//   2. 分佈 (Histogram):
//      - ptides_dispatch_slack_seconds: 派送時距離絕對截止時間的餘裕
//      - ptides_miss_lateness_seconds: 錯過截止時間的延遲量
//
//   3. 瞬時值 (Gauge):
//      - ptides_queue_depth / ptides_pool_in_use / ptides_pending_actuations
//
// Prometheus 查詢示例:
//
//   # 每分鐘錯過的截止時間
//   rate(ptides_deadline_misses_total[1m])
//
//   # 95 分位餘裕，接近 0 表示排程快要來不及
//   histogram_quantile(0.95, ptides_dispatch_slack_seconds_bucket)
//
// ============================================================================

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ChuLiYu/ptides-os/internal/actor"
	"github.com/ChuLiYu/ptides-os/internal/scheduler"
	"github.com/ChuLiYu/ptides-os/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 餘裕可能是負的（已經太晚），桶從 -10ms 到 1s
var slackBuckets = []float64{-0.01, -0.001, 0, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// Collector Prometheus 指標收集器，同時是 scheduler.Observer
type Collector struct {
	admitted   *prometheus.CounterVec
	dispatched *prometheus.CounterVec
	adjusted   prometheus.Counter
	actuations *prometheus.CounterVec
	misses     *prometheus.CounterVec
	timerArms  prometheus.Counter

	slack    prometheus.Histogram
	lateness prometheus.Histogram

	queueDepth        prometheus.Gauge
	poolInUse         prometheus.Gauge
	pendingActuations prometheus.Gauge
}

// NewCollector 創建指標收集器並註冊到 prometheus.DefaultRegisterer
func NewCollector() *Collector {
	c := &Collector{
		admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ptides_events_admitted_total",
			Help: "Events admitted into the event queue by an interrupt",
		}, []string{"source"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ptides_events_dispatched_total",
			Help: "Events dispatched to an actor's fire method",
		}, []string{"actor"}),
		adjusted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ptides_events_adjusted_total",
			Help: "Events reordered by static timing analysis",
		}),
		actuations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ptides_actuations_total",
			Help: "Actuations performed at their nominal time",
		}, []string{"actor"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ptides_deadline_misses_total",
			Help: "Actuator events whose nominal time had already passed",
		}, []string{"actor"}),
		timerArms: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ptides_timer_arms_total",
			Help: "Times the platform timer was re-armed",
		}),
		slack: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ptides_dispatch_slack_seconds",
			Help:    "Absolute deadline minus physical time at dispatch",
			Buckets: slackBuckets,
		}),
		lateness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ptides_miss_lateness_seconds",
			Help:    "How late a missed actuation was",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptides_queue_depth",
			Help: "Events waiting in the event queue",
		}),
		poolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptides_pool_in_use",
			Help: "Event pool slots in use",
		}),
		pendingActuations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptides_pending_actuations",
			Help: "Actuations scheduled and waiting for the timer",
		}),
	}

	// 註冊所有指標
	prometheus.MustRegister(c.admitted)
	prometheus.MustRegister(c.dispatched)
	prometheus.MustRegister(c.adjusted)
	prometheus.MustRegister(c.actuations)
	prometheus.MustRegister(c.misses)
	prometheus.MustRegister(c.timerArms)
	prometheus.MustRegister(c.slack)
	prometheus.MustRegister(c.lateness)
	prometheus.MustRegister(c.queueDepth)
	prometheus.MustRegister(c.poolInUse)
	prometheus.MustRegister(c.pendingActuations)

	return c
}

// OnAdmit 記錄事件準入
func (c *Collector) OnAdmit(_ types.Event, src scheduler.Source) {
	c.admitted.WithLabelValues(src.String()).Inc()
}

// OnAdjust 記錄靜態時序分析
func (c *Collector) OnAdjust(types.Event, *actor.Actor) {
	c.adjusted.Inc()
}

// OnDispatch 記錄派送與餘裕
func (c *Collector) OnDispatch(d scheduler.Dispatch) {
	c.dispatched.WithLabelValues(d.Actor.Name).Inc()
	if d.Slack != types.NoDeadline {
		c.slack.Observe(d.Slack.Duration().Seconds())
	}
}

// OnActuate 記錄致動
func (c *Collector) OnActuate(a types.Actuation) {
	c.actuations.WithLabelValues(a.Actor).Inc()
}

// OnMiss 記錄錯過的截止時間
func (c *Collector) OnMiss(m types.DeadlineMiss) {
	c.misses.WithLabelValues(m.Actor).Inc()
	c.lateness.Observe(m.Lateness.Duration().Seconds())
}

// OnArm 記錄計時器設定
func (c *Collector) OnArm(types.Timestamp) {
	c.timerArms.Inc()
}

// UpdateSchedulerStats 更新瞬時狀態
func (c *Collector) UpdateSchedulerStats(st scheduler.Stats) {
	c.queueDepth.Set(float64(st.QueueDepth))
	c.poolInUse.Set(float64(st.PoolInUse))
	c.pendingActuations.Set(float64(st.PendingActuations))
}

// StartServer 啟動 Prometheus metrics HTTP 伺服器，ctx 取消時關閉
//
// 參數：
//   - ctx: 控制伺服器生命週期
//   - port: HTTP 伺服器端口
//
// 返回值：
//   - error: 啟動失敗的錯誤
func StartServer(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
