package manager

import "solax-monitor/internal/inverter"

// View is the presentation record served to the dashboard.
type View struct {
	ID            string  `json:"id" yaml:"id"`
	Name          string  `json:"name" yaml:"name"`
	PVPower       float64 `json:"pvPower" yaml:"pv_power"`
	BatteryFlow   float64 `json:"batteryFlow" yaml:"battery_flow"`
	BatteryStatus string  `json:"batteryStatus" yaml:"battery_status"`
	SOC           float64 `json:"soc" yaml:"soc"`
	GridStatus    int     `json:"gridStatus" yaml:"grid_status"`
	GridFlow      float64 `json:"gridFlow" yaml:"grid_flow"`
	Consumption   float64 `json:"consumption" yaml:"consumption"`
	YieldToday    float64 `json:"yieldToday" yaml:"yield_today"`
	ImportToday   float64 `json:"importToday" yaml:"import_today"`
	ExportToday   float64 `json:"exportToday" yaml:"export_today"`
	SelfUseRate   float64 `json:"selfUseRate" yaml:"self_use_rate"`
	StatusText    string  `json:"statusText" yaml:"status_text"`
	UploadTime    string  `json:"uploadTime" yaml:"upload_time"`
}

func NewView(id string, r inverter.Reading) View {
	return View{
		ID:            id,
		Name:          r.DisplayName,
		PVPower:       r.TotalPVPower(),
		BatteryFlow:   r.BatteryPower,
		BatteryStatus: r.BatteryStatus(),
		SOC:           r.StateOfCharge,
		GridStatus:    r.GridPresent(),
		GridFlow:      r.ExternalGridPower(),
		Consumption:   r.EstimatedLoad(),
		YieldToday:    r.YieldToday,
		ImportToday:   r.ConsumeEnergy,
		ExportToday:   r.FeedInEnergy,
		SelfUseRate:   r.SelfUseRate(),
		StatusText:    inverter.StatusName(r.OperatingStatus),
		UploadTime:    r.UploadTime,
	}
}

// Snapshot builds one View per known inverter from the stored readings.
func (m *Manager) Snapshot() []View {
	ids, readings := m.latestByID()
	views := make([]View, 0, len(ids))
	for _, id := range ids {
		views = append(views, NewView(id, readings[id]))
	}
	return views
}
