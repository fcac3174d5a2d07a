// Package classify turns joined device records into classified devices.
//
// Run(ctx, records, opts) first splits the batch on secondary data: a device
// with no BLE row (MissingNoMatch) or with an undefined referenceVoltage
// (MissingReferenceVoltage) skips evaluation and is tagged NoSecondaryData
// with every criterion flag zero. The remaining devices go through
// criteria.Evaluate and overlap.Decode, optionally spread across
// Options.Workers goroutines. Output keeps input order.
//
// Error policy:
//   - a missing measurement on a device that has BLE data → DeviceError in
//     Result.Diagnostics, device excluded, batch continues
//   - overlap.ErrUnrecognizedCombination → Run returns an error, batch aborted
package classify
