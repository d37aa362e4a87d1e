package actor

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/wbec2mqtt/internal/config"
	"github.com/berfenger/wbec2mqtt/internal/core/domain"
	"github.com/berfenger/wbec2mqtt/internal/mqtt"
	"github.com/berfenger/wbec2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/benbjohnson/clock"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var ErrMQTTDisconnected = fmt.Errorf("mqtt: not connected: %w", domain.ErrTransientIO)

// MQTTActor owns the broker connection. It reconnects at a fixed interval and
// subscribes again after every connect.
type MQTTActor struct {
	config         *config.Config
	behavior       actor.Behavior
	stash          *actorutil.Stash
	client         *mqtt.MQTTClient
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	extraTopics    []string
	gate           *mqtt.ReconnectGate
	clock          clock.Clock
	scheduler      *scheduler.TimerScheduler
	discovery      *domain.PublishDiscoveryRequest
	logger         *zap.Logger
}

type mqttConnectAttempt struct {
}

type MQTTConnected struct {
}

type MQTTSubscribed struct {
}

type MQTTConnectionLost struct {
	Error error
}

type onEventStreamMessage struct {
	message any
}

type publishResult struct {
	ReplyTo *actor.PID
	Error   error
}

// ParsedCommand is a command on one of the bridge's own entities.
type ParsedCommand struct {
	Command *mqtt.ParsedMQTTCommand
}

// LoadpointCommand is a current request received on a loadpoint topic. Error
// is set when the topic or payload could not be parsed.
type LoadpointCommand struct {
	Command *domain.ExternalCommand
	Error   error
}

type rawMessage struct {
	topic   string
	message string
	retain  bool
}

func NewMQTTActor(config *config.Config, eventStream *eventstream.EventStream, clk clock.Clock, extraTopics []string, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		extraTopics: extraTopics,
		gate:        mqtt.NewReconnectGate(time.Duration(config.MQTT.ReconnectIntervalMillis) * time.Millisecond),
		clock:       clk,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")

		system := ctx.ActorSystem()
		self := ctx.Self()
		state.scheduler = scheduler.NewTimerScheduler(ctx)

		// create MQTT client
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), func(_ pahomqtt.Client) {
		}, func(_ pahomqtt.Client, err error) {
			system.Root.Send(self, MQTTConnectionLost{Error: err})
		})

		// subscribe to eventStream
		if state.eventStream != nil {
			state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
				system.Root.Send(self, onEventStreamMessage{message: value})
			})
		}

		state.behavior.Become(state.DisconnectedReceive)
		ctx.Send(self, mqttConnectAttempt{})
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DisconnectedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case mqttConnectAttempt:
		now := state.clock.Now()
		if !state.gate.Due(now) {
			state.scheduler.SendOnce(state.gate.Wait(now), ctx.Self(), mqttConnectAttempt{})
			return
		}
		state.logger.Info("mqtt@disconnected connecting", zap.String("host", state.config.MQTT.Host), zap.Int("port", state.config.MQTT.Port))
		system := ctx.ActorSystem()
		self := ctx.Self()
		state.client.Connect(func(err error) {
			if err != nil {
				system.Root.Send(self, MQTTConnectionLost{Error: err})
			} else {
				system.Root.Send(self, MQTTConnected{})
			}
		}, 10*time.Second)
		state.behavior.Become(state.ConnectingReceive)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: false,
			State:   "disconnected",
		})
	case domain.PublishMessageRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishMessageResponse{
			ActorResponseMixIn: domain.ErrorResponse(ErrMQTTDisconnected),
		})
	case domain.PublishSensorUpdateRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishSensorUpdateResponse{
			ActorResponseMixIn: domain.ErrorResponse(ErrMQTTDisconnected),
		})
	case domain.PublishDiscoveryRequest:
		state.logger.Debug("mqtt@disconnected keeping discovery for next connect")
		state.discovery = &msg
	case onEventStreamMessage, MQTTConnectionLost:
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("mqtt@disconnected default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MQTTActor) ConnectingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case MQTTConnected:
		state.logger.Debug("mqtt@connecting connected")

		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_ONLINE, 0, true, func(error) {}, 500*time.Millisecond)

		system := ctx.ActorSystem()
		self := ctx.Self()
		topics := state.client.CommandTopics(state.extraTopics...)
		state.client.SubscribeMultiple(topics, 1, state.messageHandler(system, self), func(err error) {
			if err != nil {
				system.Root.Send(self, MQTTConnectionLost{Error: err})
			} else {
				system.Root.Send(self, MQTTSubscribed{})
			}
		}, 5*time.Second)
	case MQTTSubscribed:
		state.logger.Info("mqtt@connecting subscribed", zap.Strings("topics", state.client.CommandTopics(state.extraTopics...)))
		state.behavior.Become(state.DefaultReceive)
		if state.discovery != nil {
			if err := state.PublishHomeAssistantDiscovery(*state.discovery); err != nil {
				state.logger.Error("mqtt@connecting PublishHADiscovery error", zap.Error(err))
			}
		}
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		state.connectionLost(ctx, msg.Error)
	case onEventStreamMessage:
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("mqtt@connecting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "connected",
		})
	case ParsedCommand:
		// route command to parent
		state.logger.Debug("mqtt@default parsedCommand", zap.Any("command", msg.Command))
		ctx.Send(ctx.Parent(), msg)
	case LoadpointCommand:
		state.logger.Debug("mqtt@default loadpointCommand", zap.Any("command", msg.Command), zap.Error(msg.Error))
		ctx.Send(ctx.Parent(), msg)
	case onEventStreamMessage:
		if event, ok := msg.message.(domain.SensorUpdateEvent); ok {
			state.publishSensorValue(ctx, event, false)
		}
	case domain.PublishMessageRequest:
		state.logger.Debug("mqtt@default PublishMessageRequest", zap.String("topic", msg.Topic))
		state.publishMessage(ctx, msg.Topic, msg.Payload, msg.Retain, actorutil.ForRequest(msg).ReplyTo(ctx))
	case domain.PublishSensorUpdateRequest:
		state.logger.Debug("mqtt@default PublishSensorUpdateRequest", zap.String("type", fmt.Sprintf("%T", msg.Event)))
		state.publishSensorValue(ctx, msg.Event, msg.Retain)
	case domain.PublishDiscoveryRequest:
		state.logger.Debug("mqtt@default PublishHADiscovery")
		state.discovery = &msg
		if err := state.PublishHomeAssistantDiscovery(msg); err != nil {
			state.logger.Error("mqtt@default PublishHADiscovery error", zap.Error(err))
		}
	case MQTTConnectionLost:
		state.connectionLost(ctx, msg.Error)
	default:
		state.logger.Debug("mqtt@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MQTTActor) connectionLost(ctx actor.Context, err error) {
	wait := state.gate.Wait(state.clock.Now())
	state.logger.Warn("mqtt@connection lost", zap.Error(err), zap.Duration("retry_in", wait))
	state.behavior.Become(state.DisconnectedReceive)
	state.scheduler.SendOnce(wait, ctx.Self(), mqttConnectAttempt{})
	state.stash.UnstashAll(ctx)
}

func (state *MQTTActor) messageHandler(system *actor.ActorSystem, self *actor.PID) pahomqtt.MessageHandler {
	rootTopic := state.client.RootTopic()
	return func(_ pahomqtt.Client, m pahomqtt.Message) {
		if mqtt.IsLoadpointCommandTopic(rootTopic, m.Topic()) {
			cmd, err := mqtt.ParseLoadpointCommand(rootTopic, m.Topic(), m.Payload())
			system.Root.Send(self, LoadpointCommand{Command: cmd, Error: err})
			return
		}
		cmd, err := state.client.ParseMQTTCommand(m.Topic(), m.Payload())
		if err == nil && cmd != nil {
			system.Root.Send(self, ParsedCommand{Command: cmd})
		}
	}
}

func (state *MQTTActor) event2MQTTMessage(event any) *rawMessage {
	switch msg := event.(type) {
	case domain.FloatSensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.SensorStateTopic(msg.Id),
			message: fmt.Sprintf(fmt.Sprintf("%%.%df", msg.Decimals), msg.Value),
		}
	case domain.BinarySensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.BinarySensorStateTopic(msg.Id),
			message: bool2MQTTPayload(msg.Value),
		}
	case domain.SelectSensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.SelectStateTopic(msg.Id),
			message: msg.Value,
			retain:  true,
		}
	case domain.InputNumberSensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.InputNumberStateTopic(msg.Id),
			message: fmt.Sprintf(fmt.Sprintf("%%.%df", msg.Decimals), msg.Value),
			retain:  true,
		}
	case domain.TextSensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.SensorStateTopic(msg.Id),
			message: msg.Value,
		}
	default:
		return nil
	}
}

func (state *MQTTActor) publishSensorValue(ctx actor.Context, event domain.SensorUpdateEvent, retain bool) {
	msg := state.event2MQTTMessage(event)
	if msg != nil {
		state.logger.Sugar().Debugf("mqtt@publish: sensor publish %s => %s", msg.topic, msg.message)
		system := ctx.ActorSystem()
		self := ctx.Self()
		state.client.Publish(msg.topic, msg.message, 1, msg.retain || retain, func(err error) {
			system.Root.Send(self, publishResult{Error: err})
		}, 5*time.Second)
		state.behavior.BecomeStacked(state.EventPublishResultReceive)
	}
}

func (state *MQTTActor) publishMessage(ctx actor.Context, topic, payload string, retain bool, replyTo *actor.PID) {
	state.logger.Sugar().Debugf("mqtt@publish: message publish %s => %s", topic, payload)
	system := ctx.ActorSystem()
	self := ctx.Self()
	state.client.Publish(topic, payload, 1, retain, func(err error) {
		system.Root.Send(self, publishResult{ReplyTo: replyTo, Error: err})
	}, 5*time.Second)
	state.behavior.BecomeStacked(state.MessagePublishResultReceive)
}

func (state *MQTTActor) MessagePublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		if msg.Error != nil {
			state.logger.Error("mqtt@publishing could not publish a message", zap.Error(msg.Error))
		}
		if msg.ReplyTo != nil {
			ctx.Send(msg.ReplyTo, domain.PublishMessageResponse{
				ActorResponseMixIn: domain.ErrorResponse(msg.Error),
			})
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashOldest(ctx)
	default:
		state.logger.Debug("mqtt@publishing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) EventPublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		if msg.Error != nil {
			state.logger.Error("mqtt@publishing could not publish a message", zap.Error(msg.Error))
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashOldest(ctx)
	default:
		state.logger.Debug("mqtt@publishing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) PublishHomeAssistantDiscovery(req domain.PublishDiscoveryRequest) error {
	var errs []error
	for i := range req.Sensors {
		errs = append(errs, state.publishJSON(state.client.HADiscoverySensorTopic(req.Sensors[i]),
			mqtt.GenericSensorToHADiscoveryMessage(state.client, req.Sensors[i])))
	}
	for i := range req.Selects {
		errs = append(errs, state.publishJSON(state.client.HADiscoverySelectTopic(req.Selects[i]),
			mqtt.GenericSelectToHADiscoveryMessage(state.client, req.Selects[i])))
	}
	for i := range req.InputNumbers {
		errs = append(errs, state.publishJSON(state.client.HADiscoveryInputNumberTopic(req.InputNumbers[i]),
			mqtt.GenericInputNumberToHADiscoveryMessage(state.client, req.InputNumbers[i])))
	}
	return errors.Join(errs...)
}

func (state *MQTTActor) publishJSON(topic string, msg mqtt.HADiscoveryConfig) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	state.client.Publish(topic, payload, 0, true, func(error) {}, 1*time.Second)
	return nil
}

func (state *MQTTActor) stop() {
	state.logger.Debug("mqtt: disconnect")
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
	if state.client != nil && state.client.IsConnected() {
		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_OFFLINE, 0, true, func(error) {}, 500*time.Millisecond)
		state.client.Disconnect(500 * time.Millisecond)
	}
}

func bool2MQTTPayload(value bool) string {
	if value {
		return mqtt.MQTT_PAYLOAD_ON
	}
	return mqtt.MQTT_PAYLOAD_OFF
}

// Dummy actor, used when no broker is configured and in tests.
func NewTestMQTTActor(config *config.Config, eventStream *eventstream.EventStream, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.DummyReceive)
	return act
}

func (state *MQTTActor) DummyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), nil, nil)
		if state.eventStream != nil {
			system := ctx.ActorSystem()
			self := ctx.Self()
			state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
				system.Root.Send(self, onEventStreamMessage{message: value})
			})
		}
	case *actor.Stopping:
		if state.eventStreamSub != nil {
			state.eventStream.Unsubscribe(state.eventStreamSub)
		}
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@dummy ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "dummy",
		})
	case onEventStreamMessage:
		if raw := state.event2MQTTMessage(msg.message); raw != nil {
			state.logger.Sugar().Debugf("mqtt@dummy: sensor %s => %s", raw.topic, raw.message)
		}
	case domain.PublishSensorUpdateRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishSensorUpdateResponse{})
	case domain.PublishMessageRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishMessageResponse{})
	}
}
