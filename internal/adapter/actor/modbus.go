package actor

import (
	"fmt"
	"math"
	"time"

	"github.com/berfenger/wbec2mqtt/internal/config"
	"github.com/berfenger/wbec2mqtt/internal/core/domain"
	"github.com/berfenger/wbec2mqtt/internal/metrics"
	"github.com/berfenger/wbec2mqtt/internal/util/actorutil"
	"github.com/berfenger/wbec2mqtt/pkg/mbreader"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const (
	MODBUS_TASK_TIMEOUT = 5 * time.Second
)

// ModbusActor owns the wallbox bus and the optional grid meter. Register IO
// runs as background tasks, one at a time. A task that times out is answered
// right away but keeps the bus until its IO returns.
type ModbusActor struct {
	behavior    actor.Behavior
	stash       *actorutil.Stash
	boxes       []config.BoxConfig
	wallbox     mbreader.WallboxModbusReader
	gridMeter   mbreader.GridMeterModbusReader
	metrics     *metrics.Metrics
	taskTimeout time.Duration
	task        busTask
	logger      *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

// busReleased is sent by the task goroutine once it no longer touches the bus.
type busReleased struct {
}

type busTask struct {
	answered bool
	released bool
}

func NewModbusActor(boxes []config.BoxConfig, wallbox mbreader.WallboxModbusReader, gridMeter mbreader.GridMeterModbusReader,
	m *metrics.Metrics, logger *zap.Logger) *ModbusActor {
	act := &ModbusActor{
		boxes:       boxes,
		wallbox:     wallbox,
		gridMeter:   gridMeter,
		metrics:     m,
		taskTimeout: MODBUS_TASK_TIMEOUT,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MODBUS, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *ModbusActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *ModbusActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("modbus@starting started")
		if err := state.wallbox.Open(); err != nil {
			panic(err)
		}
		if state.gridMeter != nil {
			if err := state.gridMeter.Open(); err != nil {
				panic(err)
			}
			if err := state.gridMeter.Validate(); err != nil {
				panic(err)
			}
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.close()
	default:
		state.logger.Debug("modbus@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *ModbusActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("modbus@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MODBUS,
			Healthy: true,
			State:   "idle",
		})
	case domain.GetDevicesInfoRequest:
		state.logger.Debug("modbus@default GetDevicesInfoRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, holdingBus(ctx, state.getDevicesInfo)),
			mapTaskResult[domain.GetDevicesInfoResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.GetDevicesInfoResponse{ActorResponseMixIn: domain.ErrorResponse(err)},
				replyTo: sender,
			}
		}).WithTimeout(state.taskTimeout).PipeTo(ctx.Self())
		state.waitBus()
	case domain.PollBoxesRequest:
		state.logger.Debug("modbus@default PollBoxesRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, holdingBus(ctx, func() (*domain.PollBoxesResponse, error) {
			return state.pollBoxes(), nil
		})), mapTaskResult[domain.PollBoxesResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.PollBoxesResponse{ActorResponseMixIn: domain.ErrorResponse(err)},
				replyTo: sender,
			}
		}).WithTimeout(state.taskTimeout).PipeTo(ctx.Self())
		state.waitBus()
	case domain.WriteCurrentLimitRequest:
		state.logger.Debug("modbus@default WriteCurrentLimitRequest", zap.Uint8("box", msg.BoxId),
			zap.Uint16("current", msg.DeciAmps), zap.String("source", string(msg.Source)))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, holdingBus(ctx, func() (*domain.WriteCurrentLimitResponse, error) {
			resp := state.writeCurrentLimit(msg)
			return &resp, nil
		})), mapTaskResult[domain.WriteCurrentLimitResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.WriteCurrentLimitResponse{
					ActorResponseMixIn: domain.ErrorResponse(err),
					BoxId:              msg.BoxId,
					DeciAmps:           msg.DeciAmps,
					Source:             msg.Source,
				},
				replyTo: sender,
			}
		}).WithTimeout(state.taskTimeout).PipeTo(ctx.Self())
		state.waitBus()
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("modbus@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *ModbusActor) waitBus() {
	state.task = busTask{}
	state.behavior.BecomeStacked(state.WaitingModbus)
}

func (state *ModbusActor) WaitingModbus(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("modbus@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.task.answered = true
		if !state.task.released {
			state.logger.Warn("modbus@waiting task timed out, bus still busy")
		}
		state.releaseIfDone(ctx)
	case busReleased:
		state.task.released = true
		state.releaseIfDone(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MODBUS,
			Healthy: true,
			State:   "busy",
		})
	case domain.PollBoxesRequest:
		// only the newest poll is worth running once the bus is free
		if dropped := state.stash.Drop(isPollRequest); dropped > 0 {
			state.logger.Debug("modbus@waiting dropped stale polls", zap.Int("count", dropped))
		}
		state.stash.Stash(ctx, msg)
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("modbus@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *ModbusActor) releaseIfDone(ctx actor.Context) {
	if !state.task.answered || !state.task.released {
		return
	}
	state.behavior.UnbecomeStacked()
	state.stash.UnstashOldest(ctx)
}

func isPollRequest(msg any) bool {
	_, ok := msg.(domain.PollBoxesRequest)
	return ok
}

// holdingBus reports busReleased to the actor when fn returns, also after the
// task result was already replaced by a timeout.
func holdingBus[T any](ctx actor.Context, fn func() (*T, error)) func() (*T, error) {
	system := ctx.ActorSystem()
	self := ctx.Self()
	return func() (*T, error) {
		defer system.Root.Send(self, busReleased{})
		return fn()
	}
}

func (state *ModbusActor) close() {
	state.wallbox.Close()
	if state.gridMeter != nil {
		state.gridMeter.Close()
	}
}

func (a *ModbusActor) getDevicesInfo() (*domain.GetDevicesInfoResponse, error) {
	resp := &domain.GetDevicesInfoResponse{}
	for i, box := range a.boxes {
		info := domain.WallboxInfo{
			BoxId:     uint8(i),
			UnitId:    box.UnitId,
			Loadpoint: box.Loadpoint,
		}
		regs, err := a.wallbox.ReadWallbox(box.UnitId)
		if err != nil {
			a.logger.Warn("modbus@info could not read wallbox", zap.Uint8("unit", box.UnitId), zap.Error(err))
		} else {
			info.LayoutVersion = regs.LayoutVersion
			info.HwMinCurrent = regs.HwMinCurrent
			info.HwMaxCurrent = regs.HwMaxCurrent
		}
		resp.Boxes = append(resp.Boxes, info)
	}
	if a.gridMeter != nil {
		meter, err := a.gridMeter.GetInfo()
		if err != nil {
			return nil, err
		}
		resp.GridMeter = &domain.GridMeterInfo{
			Manufacturer: meter.Manufacturer,
			Model:        meter.Model,
			Version:      meter.Version,
			Serial:       meter.Serial,
		}
	}
	return resp, nil
}

// pollBoxes reads every box. A failed box yields an invalid snapshot, the
// others are still reported.
func (a *ModbusActor) pollBoxes() *domain.PollBoxesResponse {
	resp := &domain.PollBoxesResponse{
		Snapshots: make([]domain.ChargePointSnapshot, len(a.boxes)),
	}
	for i, box := range a.boxes {
		regs, err := a.wallbox.ReadWallbox(box.UnitId)
		if err != nil {
			a.logger.Warn("modbus@poll could not read wallbox", zap.Uint8("unit", box.UnitId), zap.Error(err))
			resp.Snapshots[i] = domain.ChargePointSnapshot{BoxId: uint8(i)}
			continue
		}
		resp.Snapshots[i] = WallboxSnapshot(uint8(i), regs)
	}
	if a.gridMeter != nil {
		watt, err := a.gridMeter.GetCurrentPowerFlowWatt()
		if err != nil {
			a.logger.Warn("modbus@poll could not read grid meter", zap.Error(err))
		} else {
			gridPower := clampInt32(watt)
			resp.GridPowerWatt = &gridPower
		}
	}
	return resp
}

func (a *ModbusActor) writeCurrentLimit(req domain.WriteCurrentLimitRequest) domain.WriteCurrentLimitResponse {
	resp := domain.WriteCurrentLimitResponse{
		BoxId:    req.BoxId,
		DeciAmps: req.DeciAmps,
		Source:   req.Source,
	}
	var err error
	if int(req.BoxId) >= len(a.boxes) {
		err = fmt.Errorf("box %d is not configured: %w", req.BoxId, domain.ErrValidationRejected)
	} else if werr := a.wallbox.WriteCurrentLimit(a.boxes[req.BoxId].UnitId, req.DeciAmps); werr != nil {
		err = fmt.Errorf("%w: %w", domain.ErrTransientIO, werr)
	}
	a.metrics.CountBoxWrite(req.BoxId, req.Source, err)
	resp.ResponseError = err
	return resp
}

// WallboxSnapshot maps the decoded registers of a box to its snapshot.
func WallboxSnapshot(boxId uint8, regs *mbreader.WallboxRegisters) domain.ChargePointSnapshot {
	return domain.ChargePointSnapshot{
		BoxId:         boxId,
		Status:        regs.Status,
		PowerWatt:     regs.PowerWatt,
		PhaseVoltages: regs.PhaseVoltages,
		PhaseCurrents: regs.PhaseCurrents,
		EnergyHigh:    regs.EnergyHigh,
		EnergyLow:     regs.EnergyLow,
		HwMinCurrent:  regs.HwMinCurrent,
		HwMaxCurrent:  regs.HwMaxCurrent,
		CurrentLimit:  regs.CurrentLimit,
		Valid:         true,
	}
}

func clampInt32(v float64) int32 {
	v = math.Round(v)
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
