// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection attempts, confirmations and handshake timeouts
//   - Reconnects scheduled, their delays and exhaustion
//   - Inbound frames by type and sends by result
//   - Current connection state
package metrics
