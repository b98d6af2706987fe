// Package stats keeps online latency aggregates for dispatched operations.
//
// Samples are buffered per operation and periodically folded into a running
// aggregate, so the hot path only appends to a slice.
package stats

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/authproxy/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultInterval is how often Run folds pending samples.
const DefaultInterval = time.Minute

// Aggregate summarizes every sample folded so far for one operation.
// Latencies are whole milliseconds.
type Aggregate struct {
	Op       string
	Count    int64
	Min      int64
	Max      int64
	Mean     float64
	Variance float64
}

// StdDev returns the population standard deviation.
func (a Aggregate) StdDev() float64 {
	if a.Variance <= 0 {
		return 0
	}
	return math.Sqrt(a.Variance)
}

// String renders the aggregate as a query-string style log record.
func (a Aggregate) String() string {
	return fmt.Sprintf("op=%s&samples=%d&max=%dms&min=%dms&mean=%sms&std_dev=%s&",
		a.Op, a.Count, a.Max, a.Min,
		strconv.FormatFloat(a.Mean, 'f', -1, 64),
		strconv.FormatFloat(a.StdDev(), 'f', -1, 64))
}

// summarize computes the aggregate of one batch.
func summarize(op string, samples []int64) Aggregate {
	agg := Aggregate{Op: op, Min: math.MaxInt64}
	var sum, sqSum float64

	for _, s := range samples {
		if s > agg.Max {
			agg.Max = s
		}
		if s < agg.Min {
			agg.Min = s
		}
		f := float64(s)
		sum += f
		sqSum += f * f
		agg.Count++
	}

	if agg.Count == 0 {
		agg.Min = 0
		return agg
	}

	n := float64(agg.Count)
	agg.Mean = sum / n
	agg.Variance = math.Max(sqSum/n-agg.Mean*agg.Mean, 0)
	return agg
}

// merge combines two aggregates of the same operation using the parallel
// mean/variance formula.
func merge(a, b Aggregate) Aggregate {
	if a.Count == 0 {
		return b
	}
	if b.Count == 0 {
		return a
	}

	na, nb := float64(a.Count), float64(b.Count)
	n := na + nb
	delta := b.Mean - a.Mean

	out := Aggregate{
		Op:    a.Op,
		Count: a.Count + b.Count,
		Min:   min(a.Min, b.Min),
		Max:   max(a.Max, b.Max),
		Mean:  a.Mean + delta*nb/n,
	}

	m2 := a.Variance*na + b.Variance*nb + delta*delta*na*nb/n
	out.Variance = m2 / n
	return out
}

// Collector buffers samples and folds them into per-operation aggregates.
// It also implements prometheus.Collector.
type Collector struct {
	mu         sync.Mutex
	batches    map[string][]int64
	aggregates map[string]Aggregate

	meanDesc    *prometheus.Desc
	stdDevDesc  *prometheus.Desc
	minDesc     *prometheus.Desc
	maxDesc     *prometheus.Desc
	samplesDesc *prometheus.Desc
}

// New returns an empty collector.
func New() *Collector {
	label := []string{"op"}
	return &Collector{
		batches:    make(map[string][]int64),
		aggregates: make(map[string]Aggregate),

		meanDesc: prometheus.NewDesc("authproxy_op_latency_mean_milliseconds",
			"Mean latency of dispatched operations since start", label, nil),
		stdDevDesc: prometheus.NewDesc("authproxy_op_latency_stddev_milliseconds",
			"Standard deviation of dispatched operation latency", label, nil),
		minDesc: prometheus.NewDesc("authproxy_op_latency_min_milliseconds",
			"Minimum observed latency of dispatched operations", label, nil),
		maxDesc: prometheus.NewDesc("authproxy_op_latency_max_milliseconds",
			"Maximum observed latency of dispatched operations", label, nil),
		samplesDesc: prometheus.NewDesc("authproxy_op_latency_samples_total",
			"Number of latency samples folded into the aggregate", label, nil),
	}
}

// Record appends one sample for op.
func (c *Collector) Record(op string, d time.Duration) {
	ms := d.Milliseconds()

	c.mu.Lock()
	c.batches[op] = append(c.batches[op], ms)
	c.mu.Unlock()
}

// Fold merges every pending batch into the aggregate of its own operation and
// clears the batches.
func (c *Collector) Fold() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for op, samples := range c.batches {
		if len(samples) == 0 {
			continue
		}
		c.aggregates[op] = merge(c.aggregates[op], summarize(op, samples))
		delete(c.batches, op)
	}
}

// Snapshot returns a copy of the aggregates, sorted by operation name.
func (c *Collector) Snapshot() []Aggregate {
	c.mu.Lock()
	out := make([]Aggregate, 0, len(c.aggregates))
	for _, agg := range c.aggregates {
		out = append(out, agg)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Op < out[j].Op })
	return out
}

// Pending returns the number of buffered samples not yet folded.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, samples := range c.batches {
		n += len(samples)
	}
	return n
}

// Run folds on a ticker until ctx is done and logs one line per operation.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Fold()
			return
		case <-ticker.C:
			c.Fold()
			for _, agg := range c.Snapshot() {
				logger.Info("Latency %s", agg)
			}
		}
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.meanDesc
	ch <- c.stdDevDesc
	ch <- c.minDesc
	ch <- c.maxDesc
	ch <- c.samplesDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, agg := range c.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.meanDesc, prometheus.GaugeValue, agg.Mean, agg.Op)
		ch <- prometheus.MustNewConstMetric(c.stdDevDesc, prometheus.GaugeValue, agg.StdDev(), agg.Op)
		ch <- prometheus.MustNewConstMetric(c.minDesc, prometheus.GaugeValue, float64(agg.Min), agg.Op)
		ch <- prometheus.MustNewConstMetric(c.maxDesc, prometheus.GaugeValue, float64(agg.Max), agg.Op)
		ch <- prometheus.MustNewConstMetric(c.samplesDesc, prometheus.CounterValue, float64(agg.Count), agg.Op)
	}
}
