package criteria

import (
	"fmt"
	"math"
)

// Bounds is an inclusive acceptance range.
type Bounds struct {
	Low  float64 `yaml:"low" json:"low"`
	High float64 `yaml:"high" json:"high"`
}

// Contains reports whether v lies within [Low, High].
func (b Bounds) Contains(v float64) bool {
	return v >= b.Low && v <= b.High
}

func (b Bounds) validate(name string) error {
	if math.IsNaN(b.Low) || math.IsNaN(b.High) || math.IsInf(b.Low, 0) || math.IsInf(b.High, 0) {
		return fmt.Errorf("%s: bounds must be finite", name)
	}
	if b.Low > b.High {
		return fmt.Errorf("%s: low %g is greater than high %g", name, b.Low, b.High)
	}
	return nil
}

// Thresholds holds the acceptance range of every numeric criterion.
// The TX ranges apply to all three channels.
type Thresholds struct {
	TXPower         Bounds `yaml:"tx_power" json:"tx_power"`
	TXModulation    Bounds `yaml:"tx_modulation" json:"tx_modulation"`
	W1Leakage       Bounds `yaml:"w1_leakage" json:"w1_leakage"`
	W1Accuracy10nA  Bounds `yaml:"w1_accuracy_10na" json:"w1_accuracy_10na"`
	W1Accuracy100nA Bounds `yaml:"w1_accuracy_100na" json:"w1_accuracy_100na"`
	VBattUnloaded   Bounds `yaml:"vbatt_unloaded" json:"vbatt_unloaded"`
	VBattDelta      Bounds `yaml:"vbatt_delta" json:"vbatt_delta"`
	CrystalFreq     Bounds `yaml:"crystal_freq" json:"crystal_freq"`
}

// DefaultThresholds returns the production acceptance limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TXPower:         Bounds{Low: -3, High: 9},
		TXModulation:    Bounds{Low: -97040, High: 97040},
		W1Leakage:       Bounds{Low: -100, High: 100},
		W1Accuracy10nA:  Bounds{Low: -200, High: 200},
		W1Accuracy100nA: Bounds{Low: -120, High: 120},
		VBattUnloaded:   Bounds{Low: 3040, High: 3366},
		VBattDelta:      Bounds{Low: 30, High: 240},
		CrystalFreq:     Bounds{Low: 3275817, High: 3277783},
	}
}

// Validate checks that every range is finite and not inverted.
func (t Thresholds) Validate() error {
	checks := []struct {
		name string
		b    Bounds
	}{
		{"tx_power", t.TXPower},
		{"tx_modulation", t.TXModulation},
		{"w1_leakage", t.W1Leakage},
		{"w1_accuracy_10na", t.W1Accuracy10nA},
		{"w1_accuracy_100na", t.W1Accuracy100nA},
		{"vbatt_unloaded", t.VBattUnloaded},
		{"vbatt_delta", t.VBattDelta},
		{"crystal_freq", t.CrystalFreq},
	}
	for _, c := range checks {
		if err := c.b.validate(c.name); err != nil {
			return err
		}
	}
	return nil
}
