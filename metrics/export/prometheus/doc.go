// Package prometheus renders the engine's counter table in Prometheus text
// exposition format. The exporter never touches a global registry; callers
// mount Handler on their own mux. Names come from internaldefs, so this
// surface and the OTel one stay identical.
package prometheus
