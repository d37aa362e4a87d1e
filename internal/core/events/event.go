package events

import (
	. "github.com/berfenger/wbec2mqtt/internal/core/domain"
)

func PvStateToUpdateEvents(resp GetPvStateResponse) []any {
	var events []any

	// Grid power
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_PV_GRID_POWER,
		},
		Value: float64(resp.GridPower),
	})
	// Filtered available power
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_PV_AVAILABLE_POWER,
		},
		Value: float64(resp.State.FilteredAvailablePower),
	})
	events = append(events, PvModeUpdateEvent(resp.State.Mode))
	events = append(events, PvTargetBoxUpdateEvent(resp.State.TargetBoxId))

	return events
}

func PvModeUpdateEvent(mode PvMode) any {
	return SelectSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SELECT_ID_PV_MODE,
		},
		Value: mode.String(),
	}
}

func PvTargetBoxUpdateEvent(boxId uint8) any {
	return InputNumberSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: INPUT_NUMBER_ID_PV_TARGET_BOX,
		},
		Value: float64(boxId),
	}
}

// WallboxSnapshotToUpdateEvents returns nothing for boxes that were never
// polled successfully.
func WallboxSnapshotToUpdateEvents(s ChargePointSnapshot) []any {
	if !s.Valid {
		return nil
	}
	var events []any

	// Status
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: WallboxSensorId(SENSOR_ID_WALLBOX_STATUS_FMT, s.BoxId),
		},
		Value: WallboxStatusToString(s.Status),
	})
	// Vehicle plugged
	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: WallboxSensorId(SENSOR_ID_WALLBOX_PLUGGED_FMT, s.BoxId),
		},
		Value: s.Connected(),
	})
	// Charging power
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: WallboxSensorId(SENSOR_ID_WALLBOX_POWER_FMT, s.BoxId),
		},
		Value: float64(s.PowerWatt),
	})
	// Current limit, deci-amps to amps
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: WallboxSensorId(SENSOR_ID_WALLBOX_LIMIT_FMT, s.BoxId),
		},
		Value:    float64(s.CurrentLimit) / 10,
		Decimals: 1,
	})
	// Energy counter, Wh to kWh
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: WallboxSensorId(SENSOR_ID_WALLBOX_ENERGY_FMT, s.BoxId),
		},
		Value:    float64(s.EnergyCounter()) / 1000,
		Decimals: 3,
	})

	return events
}
