package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

// PrometheusHandler serves the metrics in Prometheus text exposition format.
func (tp *TelemetryProvider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		fmt.Fprintf(&b, "# HELP http_server_request_duration_seconds Duration of HTTP requests in seconds.\n")
		fmt.Fprintf(&b, "# TYPE http_server_request_duration_seconds histogram\n")
		snap := tp.duration.snapshot()
		for _, key := range sortedKeys(snap) {
			parts := strings.SplitN(key, "|", 3)
			if len(parts) != 3 {
				continue
			}
			labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
			writeHistogram(&b, "http_server_request_duration_seconds", labels, snap[key])
		}
		b.WriteByte('\n')

		writeGauge(&b, "http_server_active_requests", "Number of active HTTP requests.",
			tp.gauges.get("http.server.active_requests"))

		fmt.Fprintf(&b, "# HELP http_server_request_size_bytes Size of HTTP request bodies in bytes.\n")
		fmt.Fprintf(&b, "# TYPE http_server_request_size_bytes histogram\n")
		writeHistogram(&b, "http_server_request_size_bytes", "", tp.requestSize)
		b.WriteByte('\n')

		fmt.Fprintf(&b, "# HELP http_server_response_size_bytes Size of HTTP response bodies in bytes.\n")
		fmt.Fprintf(&b, "# TYPE http_server_response_size_bytes histogram\n")
		writeHistogram(&b, "http_server_response_size_bytes", "", tp.responseSize)
		b.WriteByte('\n')

		fmt.Fprintf(&b, "# HELP checkin_step_count Check-in step submissions by step and outcome.\n")
		fmt.Fprintf(&b, "# TYPE checkin_step_count counter\n")
		counters := tp.counters.snapshot()
		for _, key := range sortedKeys(counters) {
			parts := strings.SplitN(key, "|", 2)
			if len(parts) != 2 {
				continue
			}
			fmt.Fprintf(&b, "checkin_step_count{step=%q,outcome=%q} %d\n", parts[0], parts[1], counters[key])
		}
		b.WriteByte('\n')

		writeGauge(&b, "db_pool_active_connections", "Number of active database pool connections.",
			tp.gauges.get("db.pool.active_connections"))
		writeGauge(&b, "db_pool_idle_connections", "Number of idle database pool connections.",
			tp.gauges.get("db.pool.idle_connections"))

		return c.String(http.StatusOK, b.String())
	}
}

func writeGauge(b *strings.Builder, name, help string, v int64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %d\n\n", name, v)
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	prefix, suffix := "", ""
	if labels != "" {
		prefix = labels + ","
		suffix = "{" + labels + "}"
	}

	cum := h.cumulativeBuckets()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%sle=\"%g\"} %d\n", name, prefix, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, prefix, h.Count())
	fmt.Fprintf(b, "%s_sum%s %g\n", name, suffix, h.Sum())
	fmt.Fprintf(b, "%s_count%s %d\n", name, suffix, h.Count())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
