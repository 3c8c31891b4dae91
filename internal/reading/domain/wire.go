package domain

import (
	"strconv"
	"strings"
)

// WireSample is a decoded device payload. The device emits comma-separated
// values: batteryVoltage,chargeVoltage,currentA1,currentA2,currentA3,irFlag.
// Fields beyond the first five are ignored.
type WireSample struct {
	BatteryVoltage float64
	ChargeVoltage  float64
	CurrentA1      float64
	CurrentA2      float64
	CurrentA3      float64
}

// ParseWireSample decodes the comma-separated device payload. A field that
// fails to parse contributes zero rather than failing the sample; a payload
// with fewer than five fields is malformed.
func ParseWireSample(raw string) (WireSample, error) {
	fields := strings.Split(strings.TrimSpace(raw), ",")
	if len(fields) < 5 {
		return WireSample{}, ErrMalformedSample
	}

	return WireSample{
		BatteryVoltage: parseField(fields[0]),
		ChargeVoltage:  parseField(fields[1]),
		CurrentA1:      parseField(fields[2]),
		CurrentA2:      parseField(fields[3]),
		CurrentA3:      parseField(fields[4]),
	}, nil
}

func parseField(raw string) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return value
}
