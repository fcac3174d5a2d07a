package overlap

import (
	"errors"
	"fmt"

	"github.com/devicetest/dltcos/internal/criteria"
)

// ErrUnrecognizedCombination signals a group whose sub-verdicts do not map to
// any known outcome. It indicates a bug in the verdict codes, not bad data.
var ErrUnrecognizedCombination = errors.New("unrecognized verdict combination")

// ChannelSummary is the decoded state of a three-channel group.
type ChannelSummary struct {
	// Failed has one entry per channel in record.Channels order.
	Failed [3]bool
	Single bool // exactly one channel failed
	Multi  bool // two or more channels failed
}

// LeakAccuracySummary is the decoded state of the W1 leakage / accuracy group.
// At most one field is true; the *Only fields are false whenever Multi is.
type LeakAccuracySummary struct {
	LeakageOnly     bool
	Accuracy10Only  bool
	Accuracy100Only bool
	Multi           bool
}

// BatterySummary is the decoded state of the battery voltage group.
type BatterySummary struct {
	UnloadedOnly bool
	DeltaOnly    bool
	Combined     bool // both unloaded and delta failed
}

// Groups is every decoded criterion group for one device.
type Groups struct {
	TXPower      ChannelSummary
	TXModulation ChannelSummary
	RXSpot       ChannelSummary
	LeakAccuracy LeakAccuracySummary
	Battery      BatterySummary
}

// Decode resolves all criterion groups from raw verdicts.
func Decode(v criteria.Verdicts) (Groups, error) {
	var g Groups
	var err error
	if g.TXPower, err = Channels(v.TXPower); err != nil {
		return g, fmt.Errorf("overlap: tx power: %w", err)
	}
	if g.TXModulation, err = Channels(v.TXModulation); err != nil {
		return g, fmt.Errorf("overlap: tx modulation: %w", err)
	}
	if g.RXSpot, err = Channels(v.RXSpot); err != nil {
		return g, fmt.Errorf("overlap: rx spot: %w", err)
	}
	if g.LeakAccuracy, err = LeakAccuracy(v.W1Leakage, v.W1Accuracy10nA, v.W1Accuracy100nA); err != nil {
		return g, fmt.Errorf("overlap: leak/accuracy: %w", err)
	}
	if g.Battery, err = Battery(v.VBattUnloaded, v.VBattDelta); err != nil {
		return g, fmt.Errorf("overlap: battery: %w", err)
	}
	return g, nil
}

// Channels decodes three per-channel outcomes.
func Channels(o [3]criteria.Outcome) (ChannelSummary, error) {
	mask, err := failMask(o[0], o[1], o[2])
	if err != nil {
		return ChannelSummary{}, err
	}
	return channelsFromMask(mask)
}

func channelsFromMask(mask uint8) (ChannelSummary, error) {
	s := ChannelSummary{
		Failed: [3]bool{mask&0b001 != 0, mask&0b010 != 0, mask&0b100 != 0},
	}
	switch mask {
	case 0b000:
	case 0b001, 0b010, 0b100:
		s.Single = true
	case 0b011, 0b101, 0b110, 0b111:
		s.Multi = true
	default:
		return ChannelSummary{}, fmt.Errorf("%w: channel mask %03b", ErrUnrecognizedCombination, mask)
	}
	return s, nil
}

// LeakAccuracy decodes the leakage, accuracy-10nA and accuracy-100nA outcomes.
func LeakAccuracy(leak, acc10, acc100 criteria.Outcome) (LeakAccuracySummary, error) {
	mask, err := failMask(leak, acc10, acc100)
	if err != nil {
		return LeakAccuracySummary{}, err
	}
	return leakAccuracyFromMask(mask)
}

func leakAccuracyFromMask(mask uint8) (LeakAccuracySummary, error) {
	switch mask {
	case 0b000:
		return LeakAccuracySummary{}, nil
	case 0b001:
		return LeakAccuracySummary{LeakageOnly: true}, nil
	case 0b010:
		return LeakAccuracySummary{Accuracy10Only: true}, nil
	case 0b100:
		return LeakAccuracySummary{Accuracy100Only: true}, nil
	case 0b011, 0b101, 0b110, 0b111:
		return LeakAccuracySummary{Multi: true}, nil
	default:
		return LeakAccuracySummary{}, fmt.Errorf("%w: leak/accuracy mask %03b", ErrUnrecognizedCombination, mask)
	}
}

// Battery decodes the unloaded-voltage and voltage-delta outcomes.
func Battery(unloaded, delta criteria.Outcome) (BatterySummary, error) {
	mask, err := failMask(unloaded, delta)
	if err != nil {
		return BatterySummary{}, err
	}
	return batteryFromMask(mask)
}

func batteryFromMask(mask uint8) (BatterySummary, error) {
	switch mask {
	case 0b00:
		return BatterySummary{}, nil
	case 0b01:
		return BatterySummary{UnloadedOnly: true}, nil
	case 0b10:
		return BatterySummary{DeltaOnly: true}, nil
	case 0b11:
		return BatterySummary{Combined: true}, nil
	default:
		return BatterySummary{}, fmt.Errorf("%w: battery mask %02b", ErrUnrecognizedCombination, mask)
	}
}

// failMask packs outcomes into a bitmask, bit i set when outcome i failed.
func failMask(outcomes ...criteria.Outcome) (uint8, error) {
	var mask uint8
	for i, o := range outcomes {
		switch o {
		case criteria.Pass:
		case criteria.Fail:
			mask |= 1 << i
		default:
			return 0, fmt.Errorf("%w: %v at position %d", ErrUnrecognizedCombination, o, i)
		}
	}
	return mask, nil
}
