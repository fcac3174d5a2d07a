package weekly

// Field describes one count column. Key is the snake_case name used in
// JSON, metrics and alert conditions; Column is the report column header.
type Field struct {
	Key    string
	Column string
	Help   string
	ptr    func(*Counts) *int
}

// Get returns the field's value in c.
func (f Field) Get(c Counts) int { return *f.ptr(&c) }

// Fields lists every count in report column order.
var Fields = []Field{
	{"rx_spot_single", "RX_SPOT_Sing_CH", "Devices with exactly one failing RX spot channel.",
		func(c *Counts) *int { return &c.RXSpotSingle }},
	{"rx_spot_multi", "RX_SPOT_Multi_CH", "Devices with two or more failing RX spot channels.",
		func(c *Counts) *int { return &c.RXSpotMulti }},
	{"tx_mod_single", "TX_MOD_Sing_CH", "Devices with exactly one TX modulation channel out of range.",
		func(c *Counts) *int { return &c.TXModSingle }},
	{"tx_mod_multi", "TX_MOD_Multi_CH", "Devices with two or more TX modulation channels out of range.",
		func(c *Counts) *int { return &c.TXModMulti }},
	{"tx_power_single", "TX_Power_Sing_CH", "Devices with exactly one TX power channel out of range.",
		func(c *Counts) *int { return &c.TXPowerSingle }},
	{"tx_power_multi", "TX_Power_Multi_CH", "Devices with two or more TX power channels out of range.",
		func(c *Counts) *int { return &c.TXPowerMulti }},
	{"w1_leakage", "W1Leakage", "Devices failing W1 leakage only.",
		func(c *Counts) *int { return &c.W1Leakage }},
	{"w1_accuracy_10na", "W1Accuracy10nA", "Devices failing W1 10nA accuracy only.",
		func(c *Counts) *int { return &c.W1Accuracy10nA }},
	{"w1_accuracy_100na", "W1Accuracy100nA", "Devices failing W1 100nA accuracy only.",
		func(c *Counts) *int { return &c.W1Accuracy100nA }},
	{"w1_leak_accuracy_multi", "W1Leak_W1Acc", "Devices failing two or more of W1 leakage and accuracy.",
		func(c *Counts) *int { return &c.W1LeakAccuracyMulti }},
	{"vbatt_combined", "VBattUnloaded_VBattDelta", "Devices failing both unloaded battery voltage and delta.",
		func(c *Counts) *int { return &c.VBattCombined }},
	{"vbatt_unloaded", "VBattUnloaded_afe", "Devices failing unloaded battery voltage only.",
		func(c *Counts) *int { return &c.VBattUnloaded }},
	{"vbatt_delta", "VBattDelta", "Devices failing battery voltage delta only.",
		func(c *Counts) *int { return &c.VBattDelta }},
	{"crystal_freq", "crystalFreq", "Devices with crystal frequency out of range.",
		func(c *Counts) *int { return &c.CrystalFreq }},
	{"no_ble", "No_BLE", "Devices without usable BLE calibration data.",
		func(c *Counts) *int { return &c.NoSecondaryData }},
	{"no_ble_match", "No_BLE_Match", "Devices with no matching BLE row.",
		func(c *Counts) *int { return &c.NoSecondaryMatch }},
	{"no_ble_reference_voltage", "No_BLE_RefV", "Devices whose BLE row has no reference voltage.",
		func(c *Counts) *int { return &c.NoReferenceVoltage }},
}

// Lookup returns the field with the given key.
func Lookup(key string) (Field, bool) {
	for _, f := range Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}
