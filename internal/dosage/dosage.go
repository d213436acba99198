// Package dosage provides the quantity and total-strength arithmetic shared
// by every pharmacy adapter. All functions are pure: inputs arrive as the
// raw field strings operators typed, unparsable numbers coerce to 0.
package dosage

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxVialSets is the most concurrent (vial-size, vial-count) pairs any
// pharmacy accepts on a single prescription line.
const MaxVialSets = 3

// VialSet is one (vial-size, vial-count) pair. Quantity is the per-vial
// volume; Vials is the vial count. Both are raw form strings.
type VialSet struct {
	Quantity string `json:"quantity"`
	Vials    string `json:"vials"`
}

// Num coerces a form string to a float. Unparsable input is 0.
func Num(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// TotalML sums quantity×vials across the present vial sets. A zero or
// absent vial count defaults to 1. A set with no quantity contributes
// nothing and its vial count is ignored.
func TotalML(sets ...VialSet) float64 {
	var total float64
	for _, set := range sets {
		qty := Num(set.Quantity)
		if qty == 0 {
			continue
		}
		vials := Num(set.Vials)
		if vials == 0 {
			vials = 1
		}
		total += qty * vials
	}
	return total
}

// TotalMG computes concentration×TotalML formatted as "%.2f mg". It
// returns the empty string when the concentration or the first set's
// quantity is missing; a prescription with no primary quantity has no
// total, not a total of 0.00.
func TotalMG(concentration float64, sets ...VialSet) string {
	if concentration == 0 || len(sets) == 0 || Num(sets[0].Quantity) == 0 {
		return ""
	}
	return fmt.Sprintf("%.2f mg", concentration*TotalML(sets...))
}

// NinetyDaySupply is the days-supply value at which the compounding-ratio
// overrides in ninetyDayMultipliers apply.
const NinetyDaySupply = 90

// multiplier is one cell of the override table: either a fixed factor or
// an instruction to fall back to the product concentration.
type multiplier struct {
	value            float64
	useConcentration bool
}

var useConc = multiplier{useConcentration: true}

// ninetyDayMultipliers maps (dosage value, vial position) to the per-set
// factor replacing the flat concentration at a 90-day fill. These are
// pharmacy-provided compounding ratios for specific dose tiers; the exact
// values are contractual and must not be generalized.
var ninetyDayMultipliers = map[string][MaxVialSets]multiplier{
	"0.44": {useConc, useConc, {value: 1.25}},
	"0.89": {useConc, {value: 1.25}, useConc},
	"1.5":  {useConc, {value: 2}, {value: 2}},
}

// dosageKey normalizes a dosage string so "1.50" and "1.5" hit the same
// table row.
func dosageKey(dosage string) string {
	v, err := strconv.ParseFloat(strings.TrimSpace(dosage), 64)
	if err != nil {
		return strings.TrimSpace(dosage)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// TotalMGWithDosageRules computes the total strength with the 90-day
// compounding overrides. For any (dosage, daysSupply) pair outside the
// override table it is identical to TotalMG.
func TotalMGWithDosageRules(concentration float64, dosage string, daysSupply int, sets ...VialSet) string {
	if concentration == 0 || len(sets) == 0 || Num(sets[0].Quantity) == 0 {
		return ""
	}

	overrides, ok := ninetyDayMultipliers[dosageKey(dosage)]
	if daysSupply != NinetyDaySupply || !ok {
		return TotalMG(concentration, sets...)
	}

	var total float64
	for i, set := range sets {
		if i >= MaxVialSets {
			break
		}
		qty := Num(set.Quantity)
		if qty == 0 {
			continue
		}
		vials := Num(set.Vials)
		if vials == 0 {
			vials = 1
		}
		factor := concentration
		if !overrides[i].useConcentration {
			factor = overrides[i].value
		}
		total += qty * vials * factor
	}
	return fmt.Sprintf("%.2f mg", total)
}

// DefaultUnits is applied when a prescription line carries no explicit
// quantity units. Display-layer only; arithmetic never assumes units.
const DefaultUnits = "mL"

// VialDisplay renders each present set as "{count} x {size}{units}",
// joined by ", ". Sets with a zero or absent size are skipped; an absent
// count renders as 1 to match the arithmetic default.
func VialDisplay(units string, sets ...VialSet) string {
	if units == "" {
		units = DefaultUnits
	}
	parts := make([]string, 0, len(sets))
	for _, set := range sets {
		if Num(set.Quantity) == 0 {
			continue
		}
		count := strings.TrimSpace(set.Vials)
		if count == "" || Num(count) == 0 {
			count = "1"
		}
		parts = append(parts, fmt.Sprintf("%s x %s%s", count, strings.TrimSpace(set.Quantity), units))
	}
	return strings.Join(parts, ", ")
}
