// Package weekly buckets classified devices into calendar weeks.
//
// Aggregate(devices, weekEnd) groups devices by the week containing their
// CreatedAt, where weeks end on weekEnd (Sunday by default, so each week runs
// Monday through Sunday). Each Week carries its civil.Date range, a device
// count, and Counts: the sum of every classification flag. No-BLE devices
// add to the device count and the no_ble columns only.
//
// Output is sorted by week start. Devices with a zero CreatedAt are returned
// as ErrInvalidTimestamp diagnostics instead of being dropped silently.
//
// Fields describes every count column (JSON key, report header, help text)
// and is the single source used by the report, metrics and alert packages.
package weekly
