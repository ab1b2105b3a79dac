package inverter

// SolaX inverter status codes as reported in the inverterStatus field.
const (
	StatusWaiting        = "100"
	StatusChecking       = "101"
	StatusNormal         = "102"
	StatusFault          = "103"
	StatusPermanentFault = "104"
	StatusUpdating       = "105"
	StatusEPSCheck       = "106"
	StatusEPS            = "107"
	StatusSelfTest       = "108"
	StatusIdle           = "109"
	StatusStandby        = "110"
)

// Grid-tied and backup codes drive the load and grid heuristics.
const (
	GridTiedStatus = StatusNormal
	EPSStatus      = StatusEPS
)

// Battery states derived from the sign of the battery power.
const (
	BatteryIdle        = "idle"
	BatteryCharging    = "charging"
	BatteryDischarging = "discharging"
)

func StatusName(code string) string {
	switch code {
	case StatusWaiting:
		return "Waiting"
	case StatusChecking:
		return "Checking"
	case StatusNormal:
		return "Normal"
	case StatusFault:
		return "Fault"
	case StatusPermanentFault:
		return "Permanent fault"
	case StatusUpdating:
		return "Updating"
	case StatusEPSCheck:
		return "EPS check"
	case StatusEPS:
		return "EPS"
	case StatusSelfTest:
		return "Self test"
	case StatusIdle:
		return "Idle"
	case StatusStandby:
		return "Standby"
	default:
		return "Unknown"
	}
}
