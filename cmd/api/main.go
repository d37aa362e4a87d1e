package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/wbec2mqtt/internal/adapter/actor"
	"github.com/berfenger/wbec2mqtt/internal/config"
	"github.com/berfenger/wbec2mqtt/internal/core/actor"
	"github.com/berfenger/wbec2mqtt/internal/core/domain"
	"github.com/berfenger/wbec2mqtt/internal/diaglog"
	"github.com/berfenger/wbec2mqtt/internal/metrics"
	"github.com/berfenger/wbec2mqtt/internal/persistence"
	"github.com/berfenger/wbec2mqtt/internal/server"
	"github.com/berfenger/wbec2mqtt/internal/util/actorutil"
	"github.com/berfenger/wbec2mqtt/pkg/mbreader"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig(viper.GetViper(), os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	// init Modbus actor provider
	modbusProv, err := modbusActorProvider(cfg, m, logger)
	if err != nil {
		panic(err)
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, modbusProv, mqttActorProvider(cfg, logger),
			chargeControlActorProvider(cfg, m, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid, m)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func modbusActorProvider(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (actor.ModbusActorProvider, error) {

	timeout := time.Duration(cfg.Modbus.TimeoutMillis) * time.Millisecond

	wallbox, err := mbreader.CreateWallboxBusReader(cfg.Modbus.URL, cfg.Modbus.Speed, timeout, logger, m.ModbusInstrument())
	if err != nil {
		return nil, err
	}

	var gridMeter mbreader.GridMeterModbusReader
	if cfg.GridMeter.Enabled {
		gridMeter, err = mbreader.CreateSunSpecGridMeterReader(cfg.GridMeter.Host, cfg.GridMeter.Port,
			uint8(cfg.GridMeter.MeterId), 1*time.Second, cfg.GridMeter.IgnoreFronius, logger, m.ModbusInstrument())
		if err != nil {
			return nil, err
		}
	}

	return func() *adactor.ModbusActor {
		return adactor.NewModbusActor(cfg.Boxes, wallbox, gridMeter, m, logger)
	}, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	if !cfg.MQTT.Enabled() {
		logger.Warn("mqtt host not configured, command bridge disabled")
		return func(eventStream *eventstream.EventStream, _ []string) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(cfg, eventStream, logger)
		}
	}
	return func(eventStream *eventstream.EventStream, extraTopics []string) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, eventStream, clock.New(), extraTopics, logger)
	}
}

func chargeControlActorProvider(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) actor.ChargeControlActorProvider {
	fs := afero.NewOsFs()
	store := persistence.NewFileControlStateStore(fs, cfg.Persistence.StateFile)
	diagLog := diaglog.NewFileDiagnosticLog(fs, cfg.DiagLog, nil)
	return func(modbusActor, mqttActor *pactor.PID, eventStream *eventstream.EventStream) *actor.ChargeControlActor {
		return actor.NewChargeControlActor(cfg, modbusActor, mqttActor, eventStream, store, diagLog, m, clock.New(), logger)
	}
}
