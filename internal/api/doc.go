// Package api implements the HTTP surface of the harvester: health and
// readiness probes, Prometheus metrics, ingestion progress, and the
// read-only dashboard endpoints over stored notices.
package api
