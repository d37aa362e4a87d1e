package mqtt

import (
	"fmt"

	"github.com/berfenger/wbec2mqtt/internal/core/domain"
)

type HADiscoveryConfig struct {
	Device            HADiscoveryDevice `json:"device"`
	StateTopic        string            `json:"state_topic"`
	CommandTopic      string            `json:"command_topic,omitempty"`
	StateClass        string            `json:"state_class,omitempty"`
	DeviceClass       string            `json:"device_class,omitempty"`
	UnitOfMeasurement string            `json:"unit_of_measurement,omitempty"`
	AvTopic           string            `json:"availability_topic,omitempty"`
	EntityCategory    string            `json:"entity_category,omitempty"`
	Name              string            `json:"name"`
	UniqueId          string            `json:"unique_id"`
	Platform          string            `json:"platform"`
	EnabledByDefault  *bool             `json:"enabled_by_default,omitempty"`
	PayloadOn         string            `json:"payload_on,omitempty"`
	PayloadOff        string            `json:"payload_off,omitempty"`
	Icon              string            `json:"icon,omitempty"`
	Options           []string          `json:"options,omitempty"`
	Min               *float64          `json:"min,omitempty"`
	Max               *float64          `json:"max,omitempty"`
	Step              float64           `json:"step,omitempty"`
	Mode              string            `json:"mode,omitempty"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

func (c *MQTTClient) HADiscoverySensorTopic(sensor domain.GenericSensor) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", c.DiscoveryPrefix(), sensor.SensorType, sensor.Device.Id, sensor.Id)
}

func (c *MQTTClient) HADiscoverySelectTopic(sel domain.GenericSelect) string {
	return fmt.Sprintf("%s/select/%s/%s/config", c.DiscoveryPrefix(), sel.Device.Id, sel.Id)
}

func (c *MQTTClient) HADiscoveryInputNumberTopic(inputNumber domain.GenericInputNumber) string {
	return fmt.Sprintf("%s/number/%s/%s/config", c.DiscoveryPrefix(), inputNumber.Device.Id, inputNumber.Id)
}

func GenericSensorToHADiscoveryMessage(client *MQTTClient, sensor domain.GenericSensor) HADiscoveryConfig {
	var topic string
	switch {
	case sensor.Id == domain.SENSOR_ID_BRIDGE_STATE:
		topic = client.BridgeStateTopic()
	case sensor.SensorType == domain.SENSOR_TYPE_BINARY:
		topic = client.BinarySensorStateTopic(sensor.Id)
	default:
		topic = client.SensorStateTopic(sensor.Id)
	}
	disConfig := HADiscoveryConfig{
		Device:            device(sensor.Device),
		StateTopic:        topic,
		StateClass:        sensor.StateClass,
		DeviceClass:       sensor.DeviceClass,
		UnitOfMeasurement: sensor.UnitOfMeasurement,
		AvTopic:           client.BridgeStateTopic(),
		EntityCategory:    sensor.EntityCategory,
		Name:              sensor.Name,
		UniqueId:          sensor.UniqueId,
		Icon:              sensor.Icon,
		EnabledByDefault:  sensor.EnabledByDefault,
		Platform:          "mqtt",
	}
	if sensor.Id == domain.SENSOR_ID_BRIDGE_STATE {
		disConfig.PayloadOn = MQTT_PAYLOAD_ONLINE
		disConfig.PayloadOff = MQTT_PAYLOAD_OFFLINE
		disConfig.AvTopic = ""
	} else if sensor.SensorType == domain.SENSOR_TYPE_BINARY {
		disConfig.PayloadOn = MQTT_PAYLOAD_ON
		disConfig.PayloadOff = MQTT_PAYLOAD_OFF
	}
	return disConfig
}

func GenericSelectToHADiscoveryMessage(client *MQTTClient, sel domain.GenericSelect) HADiscoveryConfig {
	return HADiscoveryConfig{
		Device:       device(sel.Device),
		StateTopic:   client.SelectStateTopic(sel.Id),
		CommandTopic: client.SelectCommandTopic(sel.Id),
		AvTopic:      client.BridgeStateTopic(),
		Name:         sel.Name,
		UniqueId:     sel.UniqueId,
		Icon:         sel.Icon,
		Platform:     "mqtt",
		Options:      sel.Options,
	}
}

func GenericInputNumberToHADiscoveryMessage(client *MQTTClient, inputNumber domain.GenericInputNumber) HADiscoveryConfig {
	return HADiscoveryConfig{
		Device:       device(inputNumber.Device),
		StateTopic:   client.InputNumberStateTopic(inputNumber.Id),
		CommandTopic: client.InputNumberCommandTopic(inputNumber.Id),
		AvTopic:      client.BridgeStateTopic(),
		Name:         inputNumber.Name,
		UniqueId:     inputNumber.UniqueId,
		Icon:         inputNumber.Icon,
		Platform:     "mqtt",
		Min:          &inputNumber.Min,
		Max:          &inputNumber.Max,
		Step:         inputNumber.Step,
		Mode:         inputNumber.Mode,
	}
}

func device(d domain.Device) HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{d.Id},
		Manufacturer: d.Manufacturer,
		Version:      d.Version,
		Model:        d.Model,
		Name:         d.Name,
		ViaDevice:    d.ViaDevice,
	}
}
