package metrics

import (
	"net/http"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements orders.Observer and feeds the bill number generator's
// retry hook.
type Collector struct {
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  prometheus.Counter
	lowStock *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

var _ orders.Observer = (*Collector)(nil)

func New(reg *prometheus.Registry) *Collector {
	c := &Collector{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_bill_operations_total",
			Help: "Bill lifecycle operations by result kind.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pos_bill_operation_seconds",
			Help:    "Bill lifecycle operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pos_bill_number_retries_total",
			Help: "Bill number collisions that triggered another attempt.",
		}),
		lowStock: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_stock_low_alerts_total",
			Help: "Low stock alerts raised per business.",
		}, []string{"business_id"}),
		gatherer: reg,
	}
	reg.MustRegister(c.ops, c.duration, c.retries, c.lowStock)
	return c
}

func (c *Collector) ObserveOperation(op string, d time.Duration, err error) {
	c.ops.WithLabelValues(op, orders.KindName(err)).Inc()
	c.duration.WithLabelValues(op).Observe(d.Seconds())
}

// BillNumberRetry matches billno.Generator.OnRetry.
func (c *Collector) BillNumberRetry(_, _ string) { c.retries.Inc() }

func (c *Collector) StockLow(businessID string) { c.lowStock.WithLabelValues(businessID).Inc() }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
