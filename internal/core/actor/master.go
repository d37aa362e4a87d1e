package actor

import (
	"errors"
	"fmt"
	"log"
	"time"

	adactor "github.com/berfenger/wbec2mqtt/internal/adapter/actor"
	"github.com/berfenger/wbec2mqtt/internal/config"
	"github.com/berfenger/wbec2mqtt/internal/core/domain"
	"github.com/berfenger/wbec2mqtt/internal/core/service"
	. "github.com/berfenger/wbec2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

type MQTTActorProvider func(eventStream *eventstream.EventStream, extraTopics []string) *adactor.MQTTActor

type ModbusActorProvider func() *adactor.ModbusActor

type ChargeControlActorProvider func(modbusActor, mqttActor *actor.PID, eventStream *eventstream.EventStream) *ChargeControlActor

// MasterOfPuppetsActor supervises the other actors and is the scheduler of
// the control and telemetry ticks.
type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck         healthCheckResult
	eventStream                *eventstream.EventStream
	scheduler                  *scheduler.TimerScheduler
	modbusActor                *actor.PID
	mqttActor                  *actor.PID
	chargeControlActor         *actor.PID
	modbusActorProvider        ModbusActorProvider
	mqttActorProvider          MQTTActorProvider
	chargeControlActorProvider ChargeControlActorProvider
	firmwareUpdate             bool
	logger                     *zap.Logger
}

type controlTick struct {
}

type telemetryTick struct {
}

type healthCheckResult struct {
	healthy        map[string]bool
	checksReceived int
	respondTo      *actor.PID
	state          string
}

var healthCheckedActors = []string{domain.ACTOR_ID_MODBUS, domain.ACTOR_ID_MQTT, domain.ACTOR_ID_CHARGE_CONTROL}

func NewMasterOfPuppetsActor(config config.Config, modbusActorProvider ModbusActorProvider, mqttActorProvider MQTTActorProvider,
	chargeControlActorProvider ChargeControlActorProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:                     config,
		behavior:                   actor.NewBehavior(),
		stash:                      &Stash{},
		logger:                     ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:                &eventstream.EventStream{},
		modbusActorProvider:        modbusActorProvider,
		mqttActorProvider:          mqttActorProvider,
		chargeControlActorProvider: chargeControlActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset()
		state.scheduler = scheduler.NewTimerScheduler(ctx)

		// start Modbus child
		modbusActorPID, err := state.startModbusActor(ctx)
		if err != nil {
			panic(err)
		}
		state.modbusActor = modbusActorPID

		// start MQTT child
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		// start ChargeControl child
		chargeControlActorPID, err := state.startChargeControlActor(ctx)
		if err != nil {
			panic(err)
		}
		state.chargeControlActor = chargeControlActorPID

		// start HA Discovery
		if state.config.MQTT.Enabled() && state.config.MQTT.HADiscoveryEnable {
			_, err := state.startHADiscoveryActor(ctx)
			if err != nil {
				panic(err)
			}
		}

		state.scheduleControlTick(ctx)
		state.scheduleTelemetryTick(ctx)

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case controlTick:
		if !state.firmwareUpdate {
			ctx.Send(state.chargeControlActor, domain.ControlTick{})
		}
		state.scheduleControlTick(ctx)
	case telemetryTick:
		if !state.firmwareUpdate {
			ctx.Send(state.chargeControlActor, domain.TelemetryTick{})
		}
		state.scheduleTelemetryTick(ctx)
	case domain.FirmwareUpdateRequest:
		if msg.Active != state.firmwareUpdate {
			state.logger.Info("master@default firmware update", zap.Bool("active", msg.Active))
		}
		state.firmwareUpdate = msg.Active
		ForRequest(msg).Respond(ctx, domain.FirmwareUpdateResponse{Active: state.firmwareUpdate})
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		if state.firmwareUpdate {
			state.currentHealthCheck.state = "firmware_update"
		}
		state.requestHealth(ctx, state.modbusActor, domain.ACTOR_ID_MODBUS)
		state.requestHealth(ctx, state.mqttActor, domain.ACTOR_ID_MQTT)
		state.requestHealth(ctx, state.chargeControlActor, domain.ACTOR_ID_CHARGE_CONTROL)

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case adactor.ParsedCommand:
		// redirect parsedCommand to actor
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			cmd, err := ParsedMQTTCommandToCommand(*msg.Command)
			if err != nil {
				state.logger.Warn("master@default invalid command", zap.Any("command", msg.Command), zap.Error(err))
			} else {
				ctx.Send(state.chargeControlActor, cmd)
			}
		}
	case adactor.LoadpointCommand:
		ctx.Send(state.chargeControlActor, msg)
	case domain.PvControlRequest:
		ctx.RequestWithCustomSender(state.chargeControlActor, msg, ctx.Sender())
	case *actor.Terminated:
		// if some actor fails on boot, terminate
		if msg.Who.Id == fmt.Sprintf("%s/%s", ctx.Self().Id, domain.ACTOR_ID_MODBUS) {
			state.logger.Error("master@default modbus error")
			panic(errors.New("modbus terminated"))
		}
	default:
		state.logger.Debug("master@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.CancelReceiveTimeout()
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		state.currentHealthCheck.healthy[msg.Id] = msg.Healthy
		if state.currentHealthCheck.allReceived() {
			ctx.CancelReceiveTimeout()
			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		}
	case controlTick, telemetryTick:
		// ticks are dropped rather than delayed, re-arm only
		if _, ok := msg.(controlTick); ok {
			state.scheduleControlTick(ctx)
		} else {
			state.scheduleTelemetryTick(ctx)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) requestHealth(ctx actor.Context, pid *actor.PID, id string) {
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
		return domain.ActorHealthResponse{
			Id:      id,
			Healthy: false,
		}
	})
}

func (state *MasterOfPuppetsActor) scheduleControlTick(ctx actor.Context) {
	state.scheduler.RequestOnce(time.Duration(state.config.TickIntervalMillis)*time.Millisecond, ctx.Self(), controlTick{})
}

func (state *MasterOfPuppetsActor) scheduleTelemetryTick(ctx actor.Context) {
	if !state.config.MQTT.Enabled() || state.config.MQTT.PublishIntervalMillis == 0 {
		return
	}
	state.scheduler.RequestOnce(time.Duration(state.config.MQTT.PublishIntervalMillis)*time.Millisecond, ctx.Self(), telemetryTick{})
}

func (state *MasterOfPuppetsActor) startModbusActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	modbusProps := actor.PropsFromProducer(func() actor.Actor {
		return state.modbusActorProvider()
	}, actor.WithSupervisor(supervisor))
	modbusActorPID, err := ctx.SpawnNamed(modbusProps, domain.ACTOR_ID_MODBUS)
	if err != nil {
		return nil, err
	}

	return modbusActorPID, nil
}

func (state *MasterOfPuppetsActor) startChargeControlActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(10, 10*time.Second, decider)

	chargeControlProps := actor.PropsFromProducer(func() actor.Actor {
		return state.chargeControlActorProvider(state.modbusActor, state.mqttActor, state.eventStream)
	}, actor.WithSupervisor(supervisor))
	chargeControlPID, err := ctx.SpawnNamed(chargeControlProps, domain.ACTOR_ID_CHARGE_CONTROL)
	if err != nil {
		return nil, err
	}

	return chargeControlPID, nil
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(3, 30*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.modbusActor, state.mqttActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	haDiscPID, err := ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
	if err != nil {
		return nil, err
	}

	return haDiscPID, nil
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	loadpointTopics := service.LoadpointCommandTopics(state.config.MQTT.RootTopic, state.config.Loadpoints())
	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream, loadpointTopics)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *healthCheckResult) reset() {
	state.healthy = map[string]bool{}
	state.checksReceived = 0
	state.respondTo = nil
	state.state = ""
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == len(healthCheckedActors)
}

func (state *healthCheckResult) allHealthy() bool {
	for _, id := range healthCheckedActors {
		if !state.healthy[id] {
			return false
		}
	}
	return true
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
		State:   state.state,
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
