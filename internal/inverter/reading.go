package inverter

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// RawTelemetry is the "result" object SolaX returns for one inverter.
// Values may be JSON numbers, numeric strings, null or missing.
type RawTelemetry map[string]any

// PVChannels is the number of DC string inputs reported by SolaX.
const PVChannels = 4

// Reading is the canonical, normalized view of one realtime payload.
// Derived quantities are methods so they always agree with the stored fields.
type Reading struct {
	// Identity
	SerialNumber         string `json:"serial_number"`
	DisplayName          string `json:"display_name"`
	InverterSerialNumber string `json:"inverter_serial_number"`
	InverterType         string `json:"inverter_type"`

	// Timestamps, verbatim from the source
	UploadTime  string `json:"upload_time"`
	UTCDateTime string `json:"utc_date_time"`

	// Power (W) and energy (kWh)
	ACPower              float64 `json:"ac_power_w"`
	YieldToday           float64 `json:"yield_today_kwh"`
	YieldTotal           float64 `json:"yield_total_kwh"`
	FeedInPower          float64 `json:"feed_in_power_w"`
	FeedInEnergy         float64 `json:"feed_in_energy_kwh"`
	ConsumeEnergy        float64 `json:"consume_energy_kwh"`
	SecondaryFeedInPower float64 `json:"secondary_feed_in_power_w"`

	// Battery
	StateOfCharge float64 `json:"soc_pct"`
	BatteryPower  float64 `json:"battery_power_w"`

	// EPS phases
	EPS1 float64 `json:"eps1_w"`
	EPS2 float64 `json:"eps2_w"`
	EPS3 float64 `json:"eps3_w"`

	// DC strings; channels the inverter does not report are not Present
	DCPower [PVChannels]Channel `json:"dc_power_w"`

	OperatingStatus string `json:"operating_status"`
}

// Channel is one DC string input. It encodes as null when not reported.
type Channel struct {
	Watts   float64
	Present bool
}

func (c Channel) MarshalJSON() ([]byte, error) {
	if !c.Present {
		return []byte("null"), nil
	}
	return json.Marshal(c.Watts)
}

func (c *Channel) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = Channel{}
		return nil
	}
	if err := json.Unmarshal(data, &c.Watts); err != nil {
		return err
	}
	c.Present = true
	return nil
}

// Normalize converts a raw payload into a Reading. Missing or malformed
// numeric fields become zero; it never fails.
func Normalize(raw RawTelemetry, displayName string) Reading {
	r := Reading{
		SerialNumber:         raw.text("sn"),
		DisplayName:          displayName,
		InverterSerialNumber: raw.text("inverterSN"),
		InverterType:         raw.text("inverterType"),
		UploadTime:           raw.text("uploadTime"),
		UTCDateTime:          raw.text("utcDateTime"),

		ACPower:              raw.number("acpower"),
		YieldToday:           raw.number("yieldtoday"),
		YieldTotal:           raw.number("yieldtotal"),
		FeedInPower:          raw.number("feedinpower"),
		FeedInEnergy:         raw.number("feedinenergy"),
		ConsumeEnergy:        raw.number("consumeenergy"),
		SecondaryFeedInPower: raw.number("feedinpowerM2"),

		StateOfCharge: raw.number("soc"),
		BatteryPower:  raw.number("batPower"),

		EPS1: raw.number("peps1"),
		EPS2: raw.number("peps2"),
		EPS3: raw.number("peps3"),

		OperatingStatus: raw.text("inverterStatus"),
	}
	for i := range r.DCPower {
		r.DCPower[i] = raw.optional("powerdc" + strconv.Itoa(i+1))
	}
	return r
}

func (r Reading) BatteryStatus() string {
	switch {
	case r.BatteryPower > 0:
		return BatteryCharging
	case r.BatteryPower < 0:
		return BatteryDischarging
	default:
		return BatteryIdle
	}
}

func (r Reading) EPSTotal() float64 {
	return r.EPS1 + r.EPS2 + r.EPS3
}

// TotalPVPower sums the reported DC strings; absent channels count as zero.
func (r Reading) TotalPVPower() float64 {
	var total float64
	for _, ch := range r.DCPower {
		if ch.Present {
			total += ch.Watts
		}
	}
	return total
}

// EstimatedLoad approximates household consumption in watts.
//
// In EPS mode the backup phases are the load. Otherwise the load is the
// inverter output minus the grid export, except that a near-zero grid
// balance alongside live EPS phases means the inverter is feeding a backup
// circuit the balance does not see, so the EPS total is used instead.
// The result is never negative.
func (r Reading) EstimatedLoad() float64 {
	eps := r.EPSTotal()
	if r.OperatingStatus == EPSStatus {
		return math.Max(0, round(eps))
	}
	load := r.ACPower - r.FeedInPower
	if load < 10 && eps > 10 {
		return round(eps)
	}
	return math.Max(0, round(load))
}

// GridPresent is 1 when the inverter reports the grid-tied status, else 0.
func (r Reading) GridPresent() int {
	if r.OperatingStatus == GridTiedStatus {
		return 1
	}
	return 0
}

// ExternalGridPower is positive when importing and negative when exporting.
func (r Reading) ExternalGridPower() float64 {
	return -r.FeedInPower
}

// SelfUseRate is the percentage of today's yield consumed on site.
func (r Reading) SelfUseRate() float64 {
	if r.YieldToday <= 0 {
		return 0
	}
	exported := math.Min(r.YieldToday, r.FeedInEnergy)
	return round(100 * (r.YieldToday - exported) / r.YieldToday)
}

// round rounds half up, matching the figures shown by SolaX Cloud.
func round(v float64) float64 {
	return math.Floor(v + 0.5)
}

func (raw RawTelemetry) number(key string) float64 {
	if v, ok := parseNumber(raw[key]); ok {
		return v
	}
	return 0
}

func (raw RawTelemetry) optional(key string) Channel {
	v, ok := parseNumber(raw[key])
	return Channel{Watts: v, Present: ok}
}

func (raw RawTelemetry) text(key string) string {
	switch v := raw[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func parseNumber(value any) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
