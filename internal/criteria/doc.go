// Package criteria evaluates one joined device record against the fixed
// battery of acceptance criteria.
//
// Every criterion compares a single measurement against an inclusive
// [Low, High] range (Bounds) or, for the three RX spot checks, against the
// PASS sentinel. The result is a tagged Outcome (Pass | Fail) rather than a
// raw integer; Code maps an outcome back to the numeric verdict codes used by
// downstream reports (leakage 5, accuracy-10nA 1, accuracy-100nA 3,
// VBattDelta 2, everything else 1).
//
// Thresholds groups all bounds in one structure. DefaultThresholds returns
// the production limits; Validate rejects inverted or non-finite ranges.
//
// Evaluate is a pure function of one record. It must only be called for
// devices that have secondary (BLE) data; the classify package guarantees
// that ordering.
package criteria
