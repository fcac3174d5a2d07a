// Package record joins the RF characterization export and the BLE
// calibration export into one DeviceRecord per device.
//
// Join(rf, ble) reads both CSV streams, drops rows whose cells are all empty,
// and left-joins BLE onto RF by deviceName. The RF file drives the row set:
// devices missing from BLE keep a nil BLE field, which the classify package
// reports as "no secondary data". The derived VBattDelta is
// VBattUnloaded_afe - VBattLoaded_afe.
//
// Optional measurements are modelled with Value{V, Set}; an empty, NaN or
// non-numeric cell yields an unset Value rather than zero. created_at values
// that match no known layout leave CreatedAt zero so the weekly aggregator
// can report them.
package record
