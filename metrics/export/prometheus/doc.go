// Package prometheus renders tokenauth engine metrics in the Prometheus text
// exposition format. Counters are named tokenauth_*_total and the verify
// latency histogram is tokenauth_verify_latency_seconds.
//
// Nothing is registered globally; callers mount [Exporter.Handler].
package prometheus
