// Package alerts implements the rule evaluation engine and webhook delivery
// for test-cell alerting. Rules are evaluated against the most recent week of
// each processed report; notifications go to Teams, Slack, or generic HTTP
// targets when a rule fires and when it resolves.
package alerts
