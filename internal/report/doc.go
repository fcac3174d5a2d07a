// Package report renders processed batches for people and machines.
//
// A report can be written as:
//
//   - table: one row per week, one column per failure count, plus a total row
//   - json: the pipeline.Report structure as-is
//   - prom: Prometheus text exposition, one gauge family per count, labelled
//     by cell and week
//   - pareto: the four headline series per week drawn as text bars
//
// The same exposition is served on /metrics in serve mode.
package report
