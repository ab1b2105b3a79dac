package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"solax-monitor/internal/manager"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	enabled     bool

	mu        sync.Mutex
	announced map[string]bool
}

type PublisherConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Enabled     bool
}

type sensor struct {
	Name        string
	ID          string
	Unit        string
	DeviceClass string
}

// stateMessage is the retained per-inverter state payload.
type stateMessage struct {
	manager.View
	EventID   string    `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
}

var sensors = []sensor{
	{"PV Power", "pv_power", "W", "power"},
	{"Battery Power", "battery_power", "W", "power"},
	{"Battery SOC", "soc", "%", "battery"},
	{"Grid Power", "grid_power", "W", "power"},
	{"Consumption", "consumption", "W", "power"},
	{"Yield Today", "yield_today", "kWh", "energy"},
	{"Import Today", "import_today", "kWh", "energy"},
	{"Export Today", "export_today", "kWh", "energy"},
	{"Self Use Rate", "self_use_rate", "%", ""},
	{"Grid Status", "grid_status", "", ""},
	{"Status", "status", "", ""},
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return &Publisher{enabled: false}, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			log.Printf("MQTT connection lost: %v", err)
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.Println("MQTT connected")
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &Publisher{
		client:      client,
		topicPrefix: cfg.TopicPrefix,
		enabled:     true,
		announced:   make(map[string]bool),
	}, nil
}

// HandleEvent publishes update events; alerts are not forwarded.
func (p *Publisher) HandleEvent(ev manager.Event) {
	if !p.enabled || ev.Kind != manager.EventUpdate || ev.Reading == nil {
		return
	}

	view := manager.NewView(ev.InverterID, *ev.Reading)

	p.mu.Lock()
	announce := !p.announced[ev.InverterID]
	p.mu.Unlock()
	if announce {
		if err := p.PublishHomeAssistantDiscovery(view); err != nil {
			log.Printf("Failed to publish discovery for %s: %v", view.Name, err)
		} else {
			p.mu.Lock()
			p.announced[ev.InverterID] = true
			p.mu.Unlock()
		}
	}
	if err := p.Publish(ev); err != nil {
		log.Printf("Error publishing %s to MQTT: %v", view.Name, err)
	}
}

// Publish sends the sensor values and retained state of an update event.
func (p *Publisher) Publish(ev manager.Event) error {
	if !p.enabled || ev.Reading == nil {
		return nil
	}

	view := manager.NewView(ev.InverterID, *ev.Reading)

	for name, value := range sensorValues(view) {
		topic := p.topic(view.ID, name)
		token := p.client.Publish(topic, 0, false, fmt.Sprintf("%v", value))
		token.Wait()
		if token.Error() != nil {
			log.Printf("Failed to publish to %s: %v", topic, token.Error())
		}
	}

	statusJSON, err := json.Marshal(newStateMessage(view, ev))
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	token := p.client.Publish(p.topic(view.ID, "state"), 0, true, statusJSON)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish status: %w", token.Error())
	}

	return nil
}

func (p *Publisher) PublishHomeAssistantDiscovery(view manager.View) error {
	if !p.enabled {
		return nil
	}

	deviceID := "solax_" + sanitizeID(view.ID)
	for _, s := range sensors {
		discoveryTopic := fmt.Sprintf("homeassistant/sensor/%s/%s/config", deviceID, s.ID)
		payload, err := json.Marshal(discoveryConfig(p.topicPrefix, view, s))
		if err != nil {
			return fmt.Errorf("failed to marshal discovery for %s: %w", s.ID, err)
		}

		token := p.client.Publish(discoveryTopic, 0, true, payload)
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("failed to publish discovery for %s: %w", s.ID, token.Error())
		}
	}

	return nil
}

func (p *Publisher) IsConnected() bool {
	if !p.enabled {
		return false
	}
	return p.client.IsConnected()
}

func (p *Publisher) Close() {
	if p.enabled && p.client != nil {
		p.client.Disconnect(1000)
	}
}

func newStateMessage(view manager.View, ev manager.Event) stateMessage {
	return stateMessage{View: view, EventID: ev.ID.String(), Timestamp: ev.At}
}

func (p *Publisher) topic(inverterID, name string) string {
	return fmt.Sprintf("%s/%s/%s", p.topicPrefix, inverterID, name)
}

func sensorValues(v manager.View) map[string]interface{} {
	return map[string]interface{}{
		"pv_power":      v.PVPower,
		"battery_power": v.BatteryFlow,
		"soc":           v.SOC,
		"grid_power":    v.GridFlow,
		"consumption":   v.Consumption,
		"yield_today":   v.YieldToday,
		"import_today":  v.ImportToday,
		"export_today":  v.ExportToday,
		"self_use_rate": v.SelfUseRate,
		"grid_status":   v.GridStatus,
		"status":        v.StatusText,
	}
}

func discoveryConfig(prefix string, v manager.View, s sensor) map[string]interface{} {
	deviceID := "solax_" + sanitizeID(v.ID)
	config := map[string]interface{}{
		"name":        fmt.Sprintf("%s %s", v.Name, s.Name),
		"unique_id":   fmt.Sprintf("%s_%s", deviceID, s.ID),
		"state_topic": fmt.Sprintf("%s/%s/%s", prefix, v.ID, s.ID),
		"device": map[string]interface{}{
			"identifiers":   []string{deviceID},
			"name":          v.Name,
			"manufacturer":  "SolaX Power",
			"serial_number": v.ID,
		},
	}
	if s.Unit != "" {
		config["unit_of_measurement"] = s.Unit
	}
	if s.DeviceClass != "" {
		config["device_class"] = s.DeviceClass
	}
	return config
}

func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, id)
}
