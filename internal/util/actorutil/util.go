package actorutil

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/berfenger/wbec2mqtt/internal/core/domain"
	"github.com/berfenger/wbec2mqtt/internal/core/service"
	"github.com/berfenger/wbec2mqtt/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel, zap.PanicLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToCommand maps a command on one of the bridge entities to
// the surplus controller request it stands for.
func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand) (domain.PvControlRequest, error) {
	switch cmd.DeviceId {
	case domain.SELECT_ID_PV_MODE:
		mode, err := domain.ParsePvMode(cmd.Payload)
		if err != nil {
			return nil, err
		}
		return domain.SetPvModeRequest{Mode: mode}, nil
	case domain.INPUT_NUMBER_ID_PV_TARGET_BOX:
		boxId, err := strconv.ParseUint(cmd.Payload, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid box id %q: %w", cmd.Payload, domain.ErrValidationRejected)
		}
		return domain.SetTargetBoxRequest{BoxId: uint8(boxId)}, nil
	case domain.INPUT_NUMBER_ID_PV_GRID_POWER:
		watt, err := strconv.ParseFloat(cmd.Payload, 64)
		if err != nil || watt < float64(service.GRID_POWER_MIN) || watt > float64(service.GRID_POWER_MAX) {
			return nil, fmt.Errorf("invalid grid power %q: %w", cmd.Payload, domain.ErrValidationRejected)
		}
		return domain.SetGridPowerRequest{Watt: int32(watt)}, nil
	}
	return nil, fmt.Errorf("unknown command target %q: %w", cmd.DeviceId, domain.ErrValidationRejected)
}
