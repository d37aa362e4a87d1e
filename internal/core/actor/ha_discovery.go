package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/wbec2mqtt/internal/config"
	"github.com/berfenger/wbec2mqtt/internal/core/domain"
	"github.com/berfenger/wbec2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// HADiscoveryActor announces the bridge, surplus controller and wallbox
// entities once the boxes have been identified.
type HADiscoveryActor struct {
	config      *config.Config
	behavior    actor.Behavior
	modbusActor *actor.PID
	mqttActor   *actor.PID

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, modbusActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:      config,
		modbusActor: modbusActor,
		mqttActor:   mqttActor,
		behavior:    actor.NewBehavior(),
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.modbusActor, domain.GetDevicesInfoRequest{}, 10*time.Second), func(err error) any {
			return domain.GetDevicesInfoResponse{
				ActorResponseMixIn: domain.ErrorResponse(err),
			}
		})
		state.behavior.Become(state.WaitingInfoReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {

}

func (state *HADiscoveryActor) WaitingInfoReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetDevicesInfoResponse:
		if msg.HasResponseError() {
			panic(msg.GetResponseError())
		}
		state.logger.Debug("hadiscovery@info: GetDevicesInfoResponse", zap.Int("boxes", len(msg.Boxes)))
		ctx.Send(state.mqttActor, DiscoveryRequest(state.config, msg))
		state.behavior.Become(state.Done)
	default:
		state.logger.Debug("hadiscovery@info: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// DiscoveryRequest lists every entity of the bridge. The first entity of a
// device carries the full device description, the others only its id.
func DiscoveryRequest(cfg *config.Config, info domain.GetDevicesInfoResponse) domain.PublishDiscoveryRequest {
	var req domain.PublishDiscoveryRequest

	bridgeDevice := domain.BridgeDevice(cfg.MQTT.BaseTopic)
	req.Sensors = append(req.Sensors, domain.BridgeSensors(bridgeDevice)...)

	if cfg.PV.Active {
		pvSensors := domain.PvSensors(domain.IdDevice(bridgeDevice))
		req.Sensors = append(req.Sensors, pvSensors...)
		req.Selects = append(req.Selects, domain.PvSelects(domain.IdDevice(bridgeDevice))...)
		req.InputNumbers = append(req.InputNumbers, domain.PvInputNumbers(domain.IdDevice(bridgeDevice), len(cfg.Boxes))...)
	}

	for _, box := range info.Boxes {
		wallboxDevice := domain.WallboxDevice(cfg.MQTT.BaseTopic, box)
		wallboxDevice.ViaDevice = bridgeDevice.Id
		wallboxSensors := domain.WallboxSensors(wallboxDevice, box.BoxId)
		for i := range wallboxSensors {
			if i > 0 {
				wallboxSensors[i].Device = domain.IdDevice(wallboxDevice)
			}
			req.Sensors = append(req.Sensors, wallboxSensors[i])
		}
	}

	return req
}
