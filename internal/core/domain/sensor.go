package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE        = "bridge"
	SENSOR_ID_PV_GRID_POWER       = "pv_grid_power"
	SENSOR_ID_PV_AVAILABLE_POWER  = "pv_available_power"
	SELECT_ID_PV_MODE             = "pv_mode"
	INPUT_NUMBER_ID_PV_TARGET_BOX = "pv_target_box"
	INPUT_NUMBER_ID_PV_GRID_POWER = "pv_grid_power_set"
	SENSOR_ID_WALLBOX_STATUS_FMT  = "wallbox_%d_status"
	SENSOR_ID_WALLBOX_PLUGGED_FMT = "wallbox_%d_plugged"
	SENSOR_ID_WALLBOX_POWER_FMT   = "wallbox_%d_power"
	SENSOR_ID_WALLBOX_LIMIT_FMT   = "wallbox_%d_current_limit"
	SENSOR_ID_WALLBOX_ENERGY_FMT  = "wallbox_%d_energy"
	STATE_CLASS_MEASUREMENT       = "measurement"
	STATE_CLASS_TOTAL_INCREASING  = "total_increasing"
	DEVICE_CLASS_CURRENT          = "current"
	DEVICE_CLASS_ENERGY           = "energy"
	DEVICE_CLASS_POWER            = "power"
	DEVICE_CLASS_PLUG             = "plug"
	DEVICE_CLASS_CONNECTIVITY     = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC       = "diagnostic"
	ENTITY_CLASS_CONFIG           = "config"
	SENSOR_TYPE_SENSOR            = "sensor"
	SENSOR_TYPE_BINARY            = "binary_sensor"
	INPUT_NUMBER_MODE_BOX         = "box"
	INPUT_NUMBER_MODE_SLIDER      = "slider"
	WALLBOX_MANUFACTURER          = "Heidelberg"
	WALLBOX_MODEL                 = "Energy Control"
	BRIDGE_MANUFACTURER           = "wbec"
	BRIDGE_MODEL                  = "wbec2mqtt"
)

const pvGridPowerInputLimit float64 = 100000

// WallboxStatusToString describes the charge point state machine value.
func WallboxStatusToString(status uint16) string {
	switch status {
	case 2:
		return "A1 no vehicle, charging not allowed"
	case 3:
		return "A2 no vehicle, charging allowed"
	case 4:
		return "B1 vehicle plugged, charging not allowed"
	case 5:
		return "B2 vehicle plugged, charging allowed"
	case 6:
		return "C1 vehicle requests charging, charging not allowed"
	case 7:
		return "C2 vehicle charging"
	case 8:
		return "derating"
	case 9:
		return "E error"
	case 10:
		return "F wallbox locked"
	default:
		return "unknown"
	}
}

func WallboxSensorId(format string, boxId uint8) string {
	return fmt.Sprintf(format, boxId)
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("wbec_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: BRIDGE_MANUFACTURER,
		Model:        BRIDGE_MODEL,
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("wbec %s", md5HashShort(baseTopic)),
	}
}

func WallboxDevice(baseTopic string, info WallboxInfo) Device {
	return Device{
		Id:           fmt.Sprintf("wbec_wallbox_%s_%d", md5HashShort(baseTopic), info.UnitId),
		Version:      fmt.Sprintf("%x", info.LayoutVersion),
		Manufacturer: WALLBOX_MANUFACTURER,
		Model:        WALLBOX_MODEL,
		Name:         fmt.Sprintf("Wallbox %d", info.BoxId),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// Bridge connection state
	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

func PvSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	sensors = append(sensors, GenericSensor{
		Device:            bridgeDevice,
		Id:                SENSOR_ID_PV_GRID_POWER,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Grid power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(bridgeDevice.Id, SENSOR_ID_PV_GRID_POWER),
	})
	sensors = append(sensors, GenericSensor{
		Device:            bridgeDevice,
		Id:                SENSOR_ID_PV_AVAILABLE_POWER,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "PV available power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(bridgeDevice.Id, SENSOR_ID_PV_AVAILABLE_POWER),
	})

	return sensors
}

func PvSelects(bridgeDevice Device) []GenericSelect {
	return []GenericSelect{{
		Device:   bridgeDevice,
		Id:       SELECT_ID_PV_MODE,
		Name:     "PV mode",
		UniqueId: uniqueId(bridgeDevice.Id, SELECT_ID_PV_MODE),
		Icon:     "mdi:solar-power",
		Options:  PvModeNames(),
	}}
}

func PvInputNumbers(bridgeDevice Device, numBoxes int) []GenericInputNumber {

	var inputNumbers []GenericInputNumber

	inputNumbers = append(inputNumbers, GenericInputNumber{
		Device:   bridgeDevice,
		Id:       INPUT_NUMBER_ID_PV_TARGET_BOX,
		Name:     "PV controlled wallbox",
		UniqueId: uniqueId(bridgeDevice.Id, INPUT_NUMBER_ID_PV_TARGET_BOX),
		Icon:     "mdi:ev-station",
		Min:      0,
		Max:      float64(numBoxes - 1),
		Step:     1,
		Mode:     INPUT_NUMBER_MODE_BOX,
	})
	inputNumbers = append(inputNumbers, GenericInputNumber{
		Device:   bridgeDevice,
		Id:       INPUT_NUMBER_ID_PV_GRID_POWER,
		Name:     "Grid power input",
		UniqueId: uniqueId(bridgeDevice.Id, INPUT_NUMBER_ID_PV_GRID_POWER),
		Icon:     "mdi:transmission-tower",
		Min:      -pvGridPowerInputLimit,
		Max:      pvGridPowerInputLimit,
		Step:     1,
		Mode:     INPUT_NUMBER_MODE_BOX,
	})

	return inputNumbers
}

func WallboxSensors(wallboxDevice Device, boxId uint8) []GenericSensor {

	var sensors []GenericSensor

	// Status
	sensors = append(sensors, GenericSensor{
		Device:     wallboxDevice,
		Id:         WallboxSensorId(SENSOR_ID_WALLBOX_STATUS_FMT, boxId),
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Status",
		UniqueId:   uniqueId(wallboxDevice.Id, WallboxSensorId(SENSOR_ID_WALLBOX_STATUS_FMT, boxId)),
	})
	// Plugged
	sensors = append(sensors, GenericSensor{
		Device:      wallboxDevice,
		Id:          WallboxSensorId(SENSOR_ID_WALLBOX_PLUGGED_FMT, boxId),
		SensorType:  SENSOR_TYPE_BINARY,
		Name:        "Vehicle plugged",
		DeviceClass: DEVICE_CLASS_PLUG,
		UniqueId:    uniqueId(wallboxDevice.Id, WallboxSensorId(SENSOR_ID_WALLBOX_PLUGGED_FMT, boxId)),
	})
	// Charging power
	sensors = append(sensors, GenericSensor{
		Device:            wallboxDevice,
		Id:                WallboxSensorId(SENSOR_ID_WALLBOX_POWER_FMT, boxId),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Charging power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(wallboxDevice.Id, WallboxSensorId(SENSOR_ID_WALLBOX_POWER_FMT, boxId)),
	})
	// Current limit
	sensors = append(sensors, GenericSensor{
		Device:            wallboxDevice,
		Id:                WallboxSensorId(SENSOR_ID_WALLBOX_LIMIT_FMT, boxId),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Current limit",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_CURRENT,
		UnitOfMeasurement: "A",
		UniqueId:          uniqueId(wallboxDevice.Id, WallboxSensorId(SENSOR_ID_WALLBOX_LIMIT_FMT, boxId)),
	})
	// Energy counter
	sensors = append(sensors, GenericSensor{
		Device:            wallboxDevice,
		Id:                WallboxSensorId(SENSOR_ID_WALLBOX_ENERGY_FMT, boxId),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Energy",
		StateClass:        STATE_CLASS_TOTAL_INCREASING,
		DeviceClass:       DEVICE_CLASS_ENERGY,
		UnitOfMeasurement: "kWh",
		UniqueId:          uniqueId(wallboxDevice.Id, WallboxSensorId(SENSOR_ID_WALLBOX_ENERGY_FMT, boxId)),
	})

	return sensors
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}
