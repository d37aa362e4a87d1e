package actor

import (
	"errors"
	"fmt"
	"time"

	adactor "github.com/berfenger/wbec2mqtt/internal/adapter/actor"
	"github.com/berfenger/wbec2mqtt/internal/config"
	"github.com/berfenger/wbec2mqtt/internal/core/domain"
	"github.com/berfenger/wbec2mqtt/internal/core/events"
	"github.com/berfenger/wbec2mqtt/internal/core/port"
	"github.com/berfenger/wbec2mqtt/internal/core/service"
	"github.com/berfenger/wbec2mqtt/internal/metrics"
	. "github.com/berfenger/wbec2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	POLL_REQUEST_TIMEOUT = 6 * time.Second
)

// ChargeControlActor owns the box registry, the surplus controller and the
// command bridge. Every core mutation happens inside this actor.
type ChargeControlActor struct {
	ActorWithStates
	stash       *Stash
	config      *config.Config
	modbusActor *actor.PID
	mqttActor   *actor.PID
	eventStream *eventstream.EventStream
	writes      *queuedWriter
	registry    *service.SnapshotRegistry
	pv          *service.PvController
	bridge      *service.CommandBridge
	metrics     *metrics.Metrics
	clock       clock.Clock

	logger *zap.Logger
}

// queuedWriter collects the writes issued while handling one message. They
// are sent to the modbus actor once the handler returns.
type queuedWriter struct {
	queue []domain.WriteCurrentLimitRequest
}

func (w *queuedWriter) WriteCurrentLimit(boxId uint8, deciAmps uint16, source domain.WriteSource) {
	w.queue = append(w.queue, domain.WriteCurrentLimitRequest{
		BoxId:    boxId,
		DeciAmps: deciAmps,
		Source:   source,
	})
}

func (w *queuedWriter) drain() []domain.WriteCurrentLimitRequest {
	queue := w.queue
	w.queue = nil
	return queue
}

var _ port.CurrentLimitWriter = (*queuedWriter)(nil)

func NewChargeControlActor(cfg *config.Config, modbusActor *actor.PID, mqttActor *actor.PID, eventStream *eventstream.EventStream,
	store port.ControlStateStore, diagLog port.DiagnosticLog, m *metrics.Metrics, clk clock.Clock, logger *zap.Logger) *ChargeControlActor {
	actorLogger := ActorLogger(domain.ACTOR_ID_CHARGE_CONTROL, logger)
	writes := &queuedWriter{}
	registry := service.NewSnapshotRegistry(len(cfg.Boxes), cfg.Current, writes)
	loadManager := service.NewPassThroughLoadManager(registry, actorLogger)
	act := &ChargeControlActor{
		config:      cfg,
		modbusActor: modbusActor,
		mqttActor:   mqttActor,
		eventStream: eventStream,
		writes:      writes,
		registry:    registry,
		pv:          service.NewPvController(cfg.PV, cfg.Current, registry, loadManager, store, diagLog, actorLogger),
		bridge:      service.NewCommandBridge(cfg.MQTT.RootTopic, cfg.Loadpoints(), cfg.Current, registry, actorLogger),
		metrics:     m,
		clock:       clk,
		stash:       &Stash{},
		logger:      actorLogger,
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(CCStartingState{
		actor: act,
	})
	return act
}

func (state *ChargeControlActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type CCStartingState struct {
	actor *ChargeControlActor
}

func (state CCStartingState) Name() string {
	return "starting"
}

func (state CCStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("charge_control@starting started")
		state.actor.pv.Restore()
		state.actor.publishPvState()
		state.actor.Become(CCIdleState{
			actor: state.actor,
		})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.actor.logger.Debug("charge_control@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Idle state

type CCIdleState struct {
	actor *ChargeControlActor
}

func (state CCIdleState) Name() string {
	return "idle"
}

func (state CCIdleState) Receive(ctx actor.Context) {
	if state.actor.receiveCommon(ctx) {
		return
	}
	switch msg := ctx.Message().(type) {
	case domain.ControlTick:
		state.actor.logger.Debug("charge_control@idle ControlTick")
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.modbusActor, domain.PollBoxesRequest{}, POLL_REQUEST_TIMEOUT), func(err error) any {
			return domain.PollBoxesResponse{
				ActorResponseMixIn: domain.ErrorResponse(err),
			}
		})
		state.actor.BecomeStacked(CCPollingState{
			actor: state.actor,
		})
	default:
		state.actor.logger.Debug("charge_control@idle default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Polling state, waiting for the register snapshot of all boxes

type CCPollingState struct {
	actor *ChargeControlActor
}

func (state CCPollingState) Name() string {
	return "polling"
}

func (state CCPollingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.PollBoxesResponse:
		if msg.HasResponseError() {
			state.actor.logger.Warn("charge_control@polling PollBoxesResponse error", zap.Error(msg.GetResponseError()))
		} else {
			state.actor.onPoll(ctx, msg)
		}
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	case domain.ControlTick:
		state.actor.logger.Debug("charge_control@polling ControlTick dropped, poll in progress")
	case domain.ActorHealthRequest:
		state.actor.respondHealth(ctx)
	default:
		state.actor.logger.Debug("charge_control@polling: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (a *ChargeControlActor) onPoll(ctx actor.Context, resp domain.PollBoxesResponse) {
	for _, snapshot := range resp.Snapshots {
		a.registry.Update(snapshot)
		a.metrics.ObserveSnapshot(snapshot)
	}
	if resp.GridPowerWatt != nil {
		a.pv.SetGridPower(*resp.GridPowerWatt)
	}
	a.pv.Tick(a.clock.Now())
	a.flushWrites(ctx)

	for _, snapshot := range a.registry.Snapshots() {
		a.publishEvents(events.WallboxSnapshotToUpdateEvents(snapshot))
	}
	a.publishPvState()
}

// receiveCommon handles the messages every ready state accepts. It reports
// whether the message was consumed.
func (a *ChargeControlActor) receiveCommon(ctx actor.Context) bool {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		a.logger.Debug("charge_control@default ActorHealthRequest")
		a.respondHealth(ctx)
	case domain.TelemetryTick:
		a.logger.Debug("charge_control@default TelemetryTick")
		for _, pub := range a.bridge.Telemetry() {
			ctx.Send(a.mqttActor, domain.PublishMessageRequest{
				Topic:   pub.Topic,
				Payload: pub.Payload,
				Retain:  pub.Retain,
			})
		}
	case adactor.LoadpointCommand:
		a.applyLoadpointCommand(ctx, msg)
	case domain.SetGridPowerRequest:
		a.logger.Debug("charge_control@default SetGridPowerRequest", zap.Int32("watt", msg.Watt))
		accepted := a.pv.SetGridPower(msg.Watt)
		ForRequest(msg).Respond(ctx, domain.SetGridPowerResponse{Accepted: accepted})
	case domain.SetPvModeRequest:
		a.logger.Debug("charge_control@default SetPvModeRequest", zap.Stringer("mode", msg.Mode))
		err := a.pv.SetMode(msg.Mode)
		a.publishPvState()
		ForRequest(msg).Respond(ctx, domain.SetPvModeResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
			Mode:               a.pv.Mode(),
		})
	case domain.SetTargetBoxRequest:
		a.logger.Debug("charge_control@default SetTargetBoxRequest", zap.Uint8("box", msg.BoxId))
		accepted := a.pv.SetTargetBoxId(msg.BoxId)
		a.publishPvState()
		var err error
		if !accepted {
			err = fmt.Errorf("box %d is not configured: %w", msg.BoxId, domain.ErrValidationRejected)
		}
		ForRequest(msg).Respond(ctx, domain.SetTargetBoxResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
			Accepted:           accepted,
		})
	case domain.GetPvStateRequest:
		ForRequest(msg).Respond(ctx, a.pvState())
	case domain.WriteCurrentLimitResponse:
		if msg.HasResponseError() {
			a.logger.Warn("charge_control@default current limit write failed", zap.Uint8("box", msg.BoxId),
				zap.Uint16("current", msg.DeciAmps), zap.String("source", string(msg.Source)), zap.Error(msg.GetResponseError()))
		}
	default:
		return false
	}
	return true
}

func (a *ChargeControlActor) applyLoadpointCommand(ctx actor.Context, msg adactor.LoadpointCommand) {
	if msg.Error != nil || msg.Command == nil {
		a.logger.Warn("charge_control@bridge invalid loadpoint command", zap.Error(msg.Error))
		a.metrics.CountBridgeCommand(metrics.RESULT_INVALID)
		return
	}
	err := a.bridge.Apply(*msg.Command)
	switch {
	case err == nil:
		a.metrics.CountBridgeCommand(metrics.RESULT_OK)
	case errors.Is(err, domain.ErrValidationRejected):
		a.logger.Warn("charge_control@bridge loadpoint command rejected", zap.Uint8("loadpoint", msg.Command.LoadpointId),
			zap.Int("amps", msg.Command.RequestedAmps), zap.Error(err))
		a.metrics.CountBridgeCommand(metrics.RESULT_REJECTED)
	default:
		a.logger.Error("charge_control@bridge loadpoint command failed", zap.Error(err))
		a.metrics.CountBridgeCommand(metrics.RESULT_ERROR)
	}
	a.flushWrites(ctx)
}

func (a *ChargeControlActor) flushWrites(ctx actor.Context) {
	for _, req := range a.writes.drain() {
		a.logger.Info("charge_control@write current limit", zap.Uint8("box", req.BoxId),
			zap.Uint16("current", req.DeciAmps), zap.String("source", string(req.Source)))
		ctx.Request(a.modbusActor, req)
	}
}

func (a *ChargeControlActor) pvState() domain.GetPvStateResponse {
	return domain.GetPvStateResponse{
		State:     a.pv.State(),
		GridPower: a.pv.GridPower(),
		Boxes:     a.registry.Snapshots(),
	}
}

func (a *ChargeControlActor) publishPvState() {
	state := a.pvState()
	a.metrics.ObservePvState(state)
	a.publishEvents(events.PvStateToUpdateEvents(state))
}

func (a *ChargeControlActor) publishEvents(evts []any) {
	if a.eventStream == nil {
		return
	}
	for _, evt := range evts {
		a.eventStream.Publish(evt)
	}
}

func (a *ChargeControlActor) respondHealth(ctx actor.Context) {
	ctx.Respond(domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_CHARGE_CONTROL,
		Healthy: true,
		State:   a.StateName(),
	})
}
