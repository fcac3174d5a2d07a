// Package overlap decodes criterion groups: sets of criteria whose outcomes
// are reported together as "exactly one member failed" versus "several
// failed".
//
// Each group is decoded from its tuple of criteria.Outcome values through an
// exhaustive switch over the tuple's fail mask:
//
//	Channels      three per-channel checks  → Failed[3], Single, Multi
//	LeakAccuracy  leakage, acc-10nA, acc-100nA → LeakageOnly | Accuracy10Only |
//	              Accuracy100Only | Multi
//	Battery       unloaded, delta           → UnloadedOnly | DeltaOnly | Combined
//
// The numeric report format sums per-criterion codes instead (leakage 5,
// acc-10nA 1, acc-100nA 3; unloaded 1, delta 2). DecodeLeakAccuracySum,
// DecodeBatterySum and DecodeChannelSum reproduce that table; it is generated
// at init from criteria.Code so the two representations cannot drift.
// CheckInjective verifies that a set of codes keeps every subset sum unique.
//
// Any value outside the table yields ErrUnrecognizedCombination, which is an
// internal-consistency failure and aborts the batch.
package overlap
