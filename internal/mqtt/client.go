package mqtt

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/wbec2mqtt/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"
	MQTT_PAYLOAD_ON      = "on"
	MQTT_PAYLOAD_OFF     = "off"

	MQTT_COMMAND_NUMBER = "number"
	MQTT_COMMAND_SELECT = "select"

	DEFAULT_HA_DISCOVERY_TOPIC = "homeassistant"
)

// OptsFromConfig builds the client options. Paho's own reconnect logic is
// disabled, reconnection is paced by the owner of the client.
func OptsFromConfig(cfg *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID(fmt.Sprintf("wbec_%04x", rand.IntN(0x10000)))
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	opts.WillEnabled = true
	opts.WillPayload = []byte(MQTT_PAYLOAD_OFFLINE)
	opts.WillRetained = true
	opts.WillTopic = bridgeStateTopic(cfg.MQTT.BaseTopic)
	opts.WillQos = 0

	return opts
}

func CreateMQTTClient(cfg *config.Config, opts *mqtt.ClientOptions, onConnectHandler func(client mqtt.Client),
	onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return &MQTTClient{
		client:                   mqtt.NewClient(opts),
		cfg:                      cfg.MQTT,
		selectCommandRegexp:      selectCommandExtractor(cfg.MQTT.BaseTopic),
		inputNumberCommandRegexp: inputNumberCommandExtractor(cfg.MQTT.BaseTopic),
	}
}

type MQTTClient struct {
	client                   mqtt.Client
	cfg                      config.MQTTConfig
	selectCommandRegexp      *regexp.Regexp
	inputNumberCommandRegexp *regexp.Regexp
}

// ParsedMQTTCommand is a command addressed to one of the bridge's own entities.
type ParsedMQTTCommand struct {
	DeviceId string
	Command  string
	Payload  string
}

func (c *MQTTClient) baseTopic() string {
	return c.cfg.BaseTopic
}

func (c *MQTTClient) RootTopic() string {
	return c.cfg.RootTopic
}

func (c *MQTTClient) DiscoveryPrefix() string {
	if c.cfg.HADiscoveryTopic == "" {
		return DEFAULT_HA_DISCOVERY_TOPIC
	}
	return c.cfg.HADiscoveryTopic
}

func (c *MQTTClient) BridgeStateTopic() string {
	return bridgeStateTopic(c.baseTopic())
}

func (c *MQTTClient) SensorStateTopic(sensorId string) string {
	return fmt.Sprintf("%s/sensor/%s/state", c.baseTopic(), sensorId)
}

func (c *MQTTClient) BinarySensorStateTopic(sensorId string) string {
	return fmt.Sprintf("%s/binary_sensor/%s/state", c.baseTopic(), sensorId)
}

func (c *MQTTClient) SelectStateTopic(selectId string) string {
	return fmt.Sprintf("%s/select/%s/state", c.baseTopic(), selectId)
}

func (c *MQTTClient) SelectCommandTopic(selectId string) string {
	return fmt.Sprintf("%s/select/%s/set", c.baseTopic(), selectId)
}

func (c *MQTTClient) InputNumberStateTopic(id string) string {
	return fmt.Sprintf("%s/number/%s/state", c.baseTopic(), id)
}

func (c *MQTTClient) InputNumberCommandTopic(id string) string {
	return fmt.Sprintf("%s/number/%s/set", c.baseTopic(), id)
}

func (c *MQTTClient) ParseMQTTCommand(topic string, payload []byte) (*ParsedMQTTCommand, error) {
	selectCmd, err := c.parseSelectMQTTCommand(topic, payload)
	if err == nil {
		return selectCmd, nil
	}
	return c.parseInputNumberMQTTCommand(topic, payload)
}

func (c *MQTTClient) parseSelectMQTTCommand(topic string, payload []byte) (*ParsedMQTTCommand, error) {
	matches := c.selectCommandRegexp.FindAllStringSubmatch(topic, 1)
	if len(matches) == 0 {
		return nil, errors.New("invalid command")
	}
	if len(matches[0]) != 2 {
		return nil, errors.New("invalid select command")
	}
	return &ParsedMQTTCommand{
		DeviceId: matches[0][1],
		Command:  MQTT_COMMAND_SELECT,
		Payload:  strings.TrimSpace(string(payload)),
	}, nil
}

func (c *MQTTClient) parseInputNumberMQTTCommand(topic string, payload []byte) (*ParsedMQTTCommand, error) {
	matches := c.inputNumberCommandRegexp.FindAllStringSubmatch(topic, 1)
	if len(matches) == 0 {
		return nil, errors.New("invalid command")
	}
	if len(matches[0]) != 2 {
		return nil, errors.New("invalid number command")
	}

	// try to parse a valid number
	value := strings.TrimSpace(string(payload))
	if _, err := strconv.ParseFloat(value, 64); err != nil {
		return nil, err
	}

	return &ParsedMQTTCommand{
		DeviceId: matches[0][1],
		Command:  MQTT_COMMAND_NUMBER,
		Payload:  value,
	}, nil
}

func (c *MQTTClient) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	token := c.client.Publish(topic, qos, retain, payload)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT publish timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) SubscribeMultiple(topics []string, qos byte, handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = qos
	}
	token := c.client.SubscribeMultiple(filters, handler)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT subscribe timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

// CommandTopics returns the bridge's own command tree followed by extra topics.
func (c *MQTTClient) CommandTopics(extra ...string) []string {
	return append([]string{c.commandTopic()}, extra...)
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	token := c.client.Connect()
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT connect timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

func (c *MQTTClient) commandTopic() string {
	return fmt.Sprintf("%s/#", c.baseTopic())
}

func selectCommandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/select/([a-zA-Z0-9_]+)/set$", regexp.QuoteMeta(baseTopic)))
}

func inputNumberCommandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/number/([a-zA-Z0-9_]+)/set$", regexp.QuoteMeta(baseTopic)))
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
