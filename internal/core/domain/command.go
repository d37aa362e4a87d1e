package domain

import "fmt"

// PvControlRequest

type PvControlRequest interface {
	ActorRequest
	PvControlCommand() string
}

type PvControlRequestMixIn struct {
	ActorRequestMixIn
}

func (r PvControlRequestMixIn) PvControlCommand() string {
	return fmt.Sprintf("%T", r)
}

// PvControl commands

type SetGridPowerRequest struct {
	PvControlRequestMixIn
	Watt int32
}

type SetGridPowerResponse struct {
	ActorResponseMixIn
	Accepted bool
}

type SetPvModeRequest struct {
	PvControlRequestMixIn
	Mode PvMode
}

type SetPvModeResponse struct {
	ActorResponseMixIn
	Mode PvMode
}

type SetTargetBoxRequest struct {
	PvControlRequestMixIn
	BoxId uint8
}

type SetTargetBoxResponse struct {
	ActorResponseMixIn
	Accepted bool
}

type GetPvStateRequest struct {
	PvControlRequestMixIn
}

type GetPvStateResponse struct {
	ActorResponseMixIn
	State     ControlState
	GridPower int32
	Boxes     []ChargePointSnapshot
}

// ensure interface compliance
var _ PvControlRequest = (*SetGridPowerRequest)(nil)
var _ PvControlRequest = (*SetPvModeRequest)(nil)
var _ PvControlRequest = (*SetTargetBoxRequest)(nil)
var _ PvControlRequest = (*GetPvStateRequest)(nil)
