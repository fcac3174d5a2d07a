package overlap

import (
	"fmt"

	"github.com/devicetest/dltcos/internal/criteria"
)

// Group members in the order their bits appear in a fail mask.
var (
	channelGroup      = []criteria.Criterion{criteria.TXPower, criteria.TXPower, criteria.TXPower}
	leakAccuracyGroup = []criteria.Criterion{criteria.W1Leakage, criteria.W1Accuracy10nA, criteria.W1Accuracy100nA}
	batteryGroup      = []criteria.Criterion{criteria.VBattUnloaded, criteria.VBattDelta}
)

// Sum tables mapping a group's summed numeric codes back to its decoded
// state. Built once from criteria.Code so they follow any code change.
var (
	channelSums      = mustSumTable(channelGroup, channelsFromMask, false)
	leakAccuracySums = mustSumTable(leakAccuracyGroup, leakAccuracyFromMask, true)
	batterySums      = mustSumTable(batteryGroup, batteryFromMask, true)
)

// DecodeChannelSum decodes the sum of three 0/1 channel codes. The returned
// summary carries Single/Multi only; individual channels cannot be recovered
// from a sum of equal codes.
func DecodeChannelSum(sum int) (ChannelSummary, error) {
	s, ok := channelSums[sum]
	if !ok {
		return ChannelSummary{}, fmt.Errorf("%w: channel sum %d", ErrUnrecognizedCombination, sum)
	}
	s.Failed = [3]bool{}
	return s, nil
}

// DecodeLeakAccuracySum decodes the summed leakage (5), accuracy-10nA (1)
// and accuracy-100nA (3) codes.
func DecodeLeakAccuracySum(sum int) (LeakAccuracySummary, error) {
	s, ok := leakAccuracySums[sum]
	if !ok {
		return LeakAccuracySummary{}, fmt.Errorf("%w: leak/accuracy sum %d", ErrUnrecognizedCombination, sum)
	}
	return s, nil
}

// DecodeBatterySum decodes the summed unloaded (1) and delta (2) codes.
func DecodeBatterySum(sum int) (BatterySummary, error) {
	s, ok := batterySums[sum]
	if !ok {
		return BatterySummary{}, fmt.Errorf("%w: battery sum %d", ErrUnrecognizedCombination, sum)
	}
	return s, nil
}

// CheckInjective verifies that every subset of codes has a distinct sum, so
// a summed verdict identifies exactly which members failed.
func CheckInjective(codes ...int) error {
	seen := make(map[int]uint, 1<<len(codes))
	for mask := uint(0); mask < 1<<len(codes); mask++ {
		sum := subsetSum(codes, mask)
		if prev, dup := seen[sum]; dup {
			return fmt.Errorf("codes %v: subsets %b and %b both sum to %d", codes, prev, mask, sum)
		}
		seen[sum] = mask
	}
	return nil
}

// CheckCodes runs CheckInjective over the leak/accuracy and battery groups
// using the current criteria codes.
func CheckCodes() error {
	if err := CheckInjective(groupCodes(leakAccuracyGroup)...); err != nil {
		return fmt.Errorf("overlap: leak/accuracy: %w", err)
	}
	if err := CheckInjective(groupCodes(batteryGroup)...); err != nil {
		return fmt.Errorf("overlap: battery: %w", err)
	}
	return nil
}

func groupCodes(group []criteria.Criterion) []int {
	codes := make([]int, len(group))
	for i, c := range group {
		codes[i] = criteria.Code(c, criteria.Fail)
	}
	return codes
}

func subsetSum(codes []int, mask uint) int {
	sum := 0
	for i, c := range codes {
		if mask&(1<<i) != 0 {
			sum += c
		}
	}
	return sum
}

// mustSumTable enumerates every fail mask of group, decodes it, and indexes
// the result by the mask's code sum. When injective is set, two masks with
// the same sum but different decoded states panic at init.
func mustSumTable[T comparable](group []criteria.Criterion, decode func(uint8) (T, error), injective bool) map[int]T {
	codes := groupCodes(group)
	table := make(map[int]T, 1<<len(codes))
	for mask := uint(0); mask < 1<<len(codes); mask++ {
		s, err := decode(uint8(mask))
		if err != nil {
			panic(err)
		}
		sum := subsetSum(codes, mask)
		if prev, ok := table[sum]; ok && injective && prev != s {
			panic(fmt.Sprintf("overlap: sum %d is ambiguous for codes %v", sum, codes))
		}
		if _, ok := table[sum]; !ok {
			table[sum] = s
		}
	}
	return table
}
