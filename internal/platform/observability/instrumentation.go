package observability

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Enabled reports whether observability has been toggled on.
func Enabled() bool {
	_, cfg := currentLogger()
	return cfg.Enabled
}

// StartSpan records a lightweight span lifecycle around an operation.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return ctx, func(error) {}
	}

	start := time.Now()
	logger.LogAttrs(ctx, slog.LevelDebug, "obs span start",
		slog.String("component", component),
		slog.String("operation", operation),
	)

	return ctx, func(err error) {
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelWarn
		}

		attrs := []slog.Attr{
			slog.String("component", component),
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}

		logger.LogAttrs(ctx, level, "obs span end", attrs...)
	}
}

// MetricPoint is the aggregated view of one metric series.
type MetricPoint struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Count  int64             `json:"count"`
	Sum    float64           `json:"sum"`
}

var (
	metricsMu sync.Mutex
	metrics   = map[string]*MetricPoint{}
)

func seriesKey(name string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

// RecordMetric aggregates a datapoint and logs it when a logger is configured.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	key := seriesKey(name, labels)
	metricsMu.Lock()
	point, ok := metrics[key]
	if !ok {
		copied := make(map[string]string, len(labels))
		for k, v := range labels {
			copied[k] = v
		}
		point = &MetricPoint{Name: name, Labels: copied}
		metrics[key] = point
	}
	point.Count++
	point.Sum += value
	metricsMu.Unlock()

	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return
	}

	attrs := []slog.Attr{
		slog.String("metric", name),
		slog.Float64("value", value),
	}
	for k, v := range labels {
		attrs = append(attrs, slog.String(k, v))
	}

	logger.LogAttrs(ctx, slog.LevelDebug, "obs metric", attrs...)
}

// Snapshot returns every aggregated series sorted by name and labels.
func Snapshot() []MetricPoint {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]MetricPoint, 0, len(keys))
	for _, k := range keys {
		p := *metrics[k]
		labels := make(map[string]string, len(p.Labels))
		for lk, lv := range p.Labels {
			labels[lk] = lv
		}
		p.Labels = labels
		out = append(out, p)
	}
	return out
}

// Reset clears aggregated metrics.
func Reset() {
	metricsMu.Lock()
	metrics = map[string]*MetricPoint{}
	metricsMu.Unlock()
}
