// Package sink publishes processed reports to Kafka.
//
// Each report becomes one JSON message keyed by cell ID, so consumers see a
// cell's reports in order. Reports are buffered in memory while the brokers
// are unreachable; the oldest report is dropped first when the buffer fills.
package sink
