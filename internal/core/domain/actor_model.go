package domain

const (
	ACTOR_ID_MASTER         = "master"
	ACTOR_ID_MODBUS         = "modbus"
	ACTOR_ID_MQTT           = "mqtt"
	ACTOR_ID_CHARGE_CONTROL = "charge_control"
	ACTOR_ID_HA_DISCOVERY   = "hadiscovery"
)

// Ticks emitted by the master scheduler.

type ControlTick struct {
}

type TelemetryTick struct {
}

type WallboxInfo struct {
	BoxId         uint8
	UnitId        uint8
	Loadpoint     uint8
	LayoutVersion uint16
	HwMinCurrent  uint16
	HwMaxCurrent  uint16
}

type GridMeterInfo struct {
	Manufacturer string
	Model        string
	Version      string
	Serial       string
}

type GetDevicesInfoRequest struct {
	ActorRequestMixIn
}

type GetDevicesInfoResponse struct {
	ActorResponseMixIn
	Boxes     []WallboxInfo
	GridMeter *GridMeterInfo
}

type PollBoxesRequest struct {
	ActorRequestMixIn
}

type PollBoxesResponse struct {
	ActorResponseMixIn
	Snapshots []ChargePointSnapshot
	// nil when no grid meter is configured or the read failed
	GridPowerWatt *int32
}

type WriteCurrentLimitRequest struct {
	ActorRequestMixIn
	BoxId    uint8
	DeciAmps uint16
	Source   WriteSource
}

type WriteCurrentLimitResponse struct {
	ActorResponseMixIn
	BoxId    uint8
	DeciAmps uint16
	Source   WriteSource
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors      []GenericSensor
	Selects      []GenericSelect
	InputNumbers []GenericInputNumber
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type FirmwareUpdateRequest struct {
	ActorRequestMixIn
	Active bool
}

type FirmwareUpdateResponse struct {
	ActorResponseMixIn
	Active bool
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
