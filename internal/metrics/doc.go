// Package metrics exposes the IOC's process variables and update counters in
// the Prometheus text exposition format.
//
// Numeric PVs are exported as the gauge image_ioc_pv_value{pv="..."}. Every
// path update observed through Observe increments
// image_ioc_updates_total{channel="...",status="analyzed|skipped"}.
package metrics
