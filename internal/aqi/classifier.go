// Package aqi converts pollutant concentrations into EPA air quality index
// values and maps index values to categories and alert severities.
//
// Everything here is pure and safe for concurrent use.
package aqi

import (
	"fmt"
	"math"
	"time"
)

const (
	MinIndex = 0
	MaxIndex = 500
)

// Pollutant identifies one of the six criteria pollutants.
type Pollutant string

const (
	PM25 Pollutant = "pm25"
	PM10 Pollutant = "pm10"
	CO   Pollutant = "co"
	SO2  Pollutant = "so2"
	NO2  Pollutant = "no2"
	O3   Pollutant = "o3"
)

// Pollutants lists every pollutant with a breakpoint table.
var Pollutants = []Pollutant{PM25, PM10, CO, SO2, NO2, O3}

// breakpoint maps one concentration band onto one index band.
type breakpoint struct {
	concLow, concHigh float64
	aqiLow, aqiHigh   int
}

// Units: PM in µg/m³, CO and O3 in ppm, SO2 and NO2 in ppb.
var breakpoints = map[Pollutant][]breakpoint{
	PM25: {
		{0.0, 12.0, 0, 50},
		{12.1, 35.4, 51, 100},
		{35.5, 55.4, 101, 150},
		{55.5, 150.4, 151, 200},
		{150.5, 250.4, 201, 300},
		{250.5, 500.4, 301, 500},
	},
	PM10: {
		{0, 54, 0, 50},
		{55, 154, 51, 100},
		{155, 254, 101, 150},
		{255, 354, 151, 200},
		{355, 424, 201, 300},
		{425, 604, 301, 500},
	},
	CO: {
		{0.0, 4.4, 0, 50},
		{4.5, 9.4, 51, 100},
		{9.5, 12.4, 101, 150},
		{12.5, 15.4, 151, 200},
		{15.5, 30.4, 201, 300},
		{30.5, 50.4, 301, 500},
	},
	SO2: {
		{0, 35, 0, 50},
		{36, 75, 51, 100},
		{76, 185, 101, 150},
		{186, 304, 151, 200},
		{305, 604, 201, 300},
		{605, 1004, 301, 500},
	},
	NO2: {
		{0, 53, 0, 50},
		{54, 100, 51, 100},
		{101, 360, 101, 150},
		{361, 649, 151, 200},
		{650, 1249, 201, 300},
		{1250, 2049, 301, 500},
	},
	O3: {
		{0.000, 0.054, 0, 50},
		{0.055, 0.070, 51, 100},
		{0.071, 0.085, 101, 150},
		{0.086, 0.105, 151, 200},
		{0.106, 0.200, 201, 300},
		{0.201, 0.604, 301, 500},
	},
}

// ComputeSubIndex interpolates a single pollutant's concentration onto the
// index scale. Concentrations below the table clamp to 0 and above it to 500.
// A value on a band's upper edge belongs to that band, so PM2.5 at 12.0
// yields 50, not 51. Values falling in the rounding gap between two bands
// are pinned to the upper band's lower edge, which keeps the result monotone.
func ComputeSubIndex(p Pollutant, concentration float64) (int, error) {
	table, ok := breakpoints[p]
	if !ok {
		return 0, fmt.Errorf("unknown pollutant %q", p)
	}
	if math.IsNaN(concentration) {
		return 0, fmt.Errorf("concentration for %s is NaN", p)
	}

	if concentration <= table[0].concLow {
		return MinIndex, nil
	}
	top := table[len(table)-1]
	if concentration >= top.concHigh {
		return MaxIndex, nil
	}

	for _, bp := range table {
		if concentration > bp.concHigh {
			continue
		}
		c := math.Max(concentration, bp.concLow)
		value := float64(bp.aqiHigh-bp.aqiLow)/(bp.concHigh-bp.concLow)*(c-bp.concLow) + float64(bp.aqiLow)
		return clamp(int(math.Round(value))), nil
	}
	return MaxIndex, nil
}

// Category is one of the six canonical AQI bands.
type Category int

const (
	Good Category = iota
	Moderate
	UnhealthySensitive
	Unhealthy
	VeryUnhealthy
	Hazardous
)

// Severity is the alert tier assigned to a category.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type band struct {
	upper    int
	category Category
	label    string
	severity Severity
	guidance string
}

var bands = []band{
	{50, Good, "Good", SeverityInfo,
		"Air quality is satisfactory, and air pollution poses little or no risk."},
	{100, Moderate, "Moderate", SeverityInfo,
		"Air quality is acceptable. However, there may be a risk for some people, particularly those who are unusually sensitive to air pollution."},
	{150, UnhealthySensitive, "Unhealthy for Sensitive Groups", SeverityWarning,
		"Members of sensitive groups may experience health effects. The general public is less likely to be affected."},
	{200, Unhealthy, "Unhealthy", SeverityWarning,
		"Some members of the general public may experience health effects; members of sensitive groups may experience more serious health effects."},
	{300, VeryUnhealthy, "Very Unhealthy", SeverityCritical,
		"Health alert: The risk of health effects is increased for everyone."},
	{MaxIndex, Hazardous, "Hazardous", SeverityCritical,
		"Health warning of emergency conditions: everyone is more likely to be affected."},
}

func (c Category) String() string {
	if c < Good || c > Hazardous {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return bands[c].label
}

// Classification is the result of Classify.
type Classification struct {
	Category Category
	Label    string
	Severity Severity
	Message  string
}

// Classify maps an index onto its band. Out-of-range input is clamped first.
func Classify(index int) Classification {
	index = clamp(index)
	for _, b := range bands {
		if index <= b.upper {
			return Classification{
				Category: b.category,
				Label:    b.label,
				Severity: b.severity,
				Message:  b.guidance,
			}
		}
	}
	// unreachable: the last band ends at MaxIndex
	last := bands[len(bands)-1]
	return Classification{Category: last.category, Label: last.label, Severity: last.severity, Message: last.guidance}
}

// Reading is a single observation for a monitored location. It lives only
// for the duration of one poll.
type Reading struct {
	LocationName string
	Index        int
	Category     Category
	Dominant     Pollutant
	Timestamp    time.Time
}

// NewReading builds a Reading with a clamped index and its category.
func NewReading(location string, index int, dominant Pollutant, ts time.Time) *Reading {
	index = clamp(index)
	return &Reading{
		LocationName: location,
		Index:        index,
		Category:     Classify(index).Category,
		Dominant:     dominant,
		Timestamp:    ts,
	}
}

func clamp(v int) int {
	if v < MinIndex {
		return MinIndex
	}
	if v > MaxIndex {
		return MaxIndex
	}
	return v
}
