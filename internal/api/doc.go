// Package api serves the read-only REST API over the report store.
//
// Routes:
//
//	GET /api/v1/health                    cell, device and alert counts
//	GET /api/v1/cells                     one summary per live cell
//	GET /api/v1/cells/{cell}              full report with hints
//	GET /api/v1/cells/{cell}/weeks        weekly counts, ?from= and ?to= filter by week label
//	GET /api/v1/cells/{cell}/pareto       headline failure modes per week
//	GET /api/v1/cells/{cell}/diagnostics  excluded devices and hints
//	GET /api/v1/alerts                    firing and recently resolved alerts
//	GET /metrics                          Prometheus text exposition
//
// Every /api/v1 route can be put behind RequireAPIKey. Errors are returned
// as {"error": "..."} with the matching status code.
package api
