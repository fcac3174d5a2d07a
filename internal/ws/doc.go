// Package ws streams report summaries to dashboards over WebSocket.
//
// Clients connect to the hub's handler (mounted at /ws/stream) and receive
// a "snapshot" message immediately and then on every broadcast tick. When
// the service finishes a batch it also publishes a "report" message holding
// the full report, so dashboards do not have to wait for the next tick.
package ws
