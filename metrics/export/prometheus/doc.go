// Package prometheus renders trust plane metrics in Prometheus text format.
//
// [NewPrometheusExporter] reads [trustplane.Engine.MetricsSnapshot] on
// every scrape. Counters are named trustplane_*_total; admission decisions
// are also exported as trustplane_admissions_total with route, key_class and
// decision labels. Nothing is registered in a global registry; callers
// mount [PrometheusExporter.Handler].
package prometheus
