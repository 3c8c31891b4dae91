package domain

import (
	"encoding/json"
	"testing"

	"gorm.io/datatypes"
)

func TestQualityLabel(t *testing.T) {
	cases := []struct {
		completeness float64
		want         string
	}{
		{1.0, QualityExcellent},
		{0.95, QualityExcellent},
		{0.94, QualityGood},
		{0.85, QualityGood},
		{0.84, QualityFair},
		{0.70, QualityFair},
		{0.69, QualityPoor},
		{0.50, QualityPoor},
		{0.49, QualityVeryPoor},
		{0, QualityVeryPoor},
	}
	for _, tc := range cases {
		if got := QualityLabel(tc.completeness); got != tc.want {
			t.Errorf("QualityLabel(%v) = %q, want %q", tc.completeness, got, tc.want)
		}
	}
}

func TestCircuitEnergyReadsJSONNumbers(t *testing.T) {
	summary := HourlySummary{
		CircuitEnergyKwh: datatypes.JSONMap{
			"A1": 0.5,
			"A2": json.Number("0.25"),
		},
	}
	if got := summary.CircuitEnergy("A1"); got != 0.5 {
		t.Fatalf("A1 = %v", got)
	}
	if got := summary.CircuitEnergy("A2"); got != 0.25 {
		t.Fatalf("A2 = %v", got)
	}
	if got := summary.CircuitEnergy("A3"); got != 0 {
		t.Fatalf("missing circuit = %v", got)
	}
}

func TestDailySummaryDecodeRoundTrip(t *testing.T) {
	summary := DailySummary{
		CircuitTotals:   datatypes.JSON(`{"A1":{"energy_kwh":1.5,"cost":18.75,"share_pct":50}}`),
		HourlyBreakdown: datatypes.JSON(`[{"hour":3,"energy_kwh":0.2,"cost":2.5,"avg_watts":200,"peak_watts":450,"quality":"Good"}]`),
	}

	totals, err := summary.DecodeCircuitTotals()
	if err != nil {
		t.Fatalf("decode circuit totals: %v", err)
	}
	if totals["A1"].EnergyKwh != 1.5 || totals["A1"].SharePct != 50 {
		t.Fatalf("A1 total = %+v", totals["A1"])
	}

	slices, err := summary.DecodeHourlyBreakdown()
	if err != nil {
		t.Fatalf("decode breakdown: %v", err)
	}
	if len(slices) != 1 || slices[0].Hour != 3 || slices[0].Quality != "Good" {
		t.Fatalf("breakdown = %+v", slices)
	}
}
