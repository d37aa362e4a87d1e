package service

import (
	"fmt"
	"math"

	"github.com/berfenger/wbec2mqtt/internal/config"
	"github.com/berfenger/wbec2mqtt/internal/core/domain"
	"github.com/berfenger/wbec2mqtt/internal/core/port"
	"github.com/berfenger/wbec2mqtt/internal/mqtt"

	"go.uber.org/zap"
)

// CommandBridge maps loadpoint commands of the energy management system to
// box current limits and mirrors box telemetry back to it.
type CommandBridge struct {
	rootTopic  string
	loadpoints []uint8
	currMin    uint16
	currMax    uint16
	registry   port.BoxRegistry
	logger     *zap.Logger
}

func NewCommandBridge(rootTopic string, loadpoints []uint8, currentCfg config.CurrentConfig,
	registry port.BoxRegistry, logger *zap.Logger) *CommandBridge {
	return &CommandBridge{
		rootTopic:  rootTopic,
		loadpoints: loadpoints,
		currMin:    currentCfg.AbsMin,
		currMax:    currentCfg.AbsMax,
		registry:   registry,
		logger:     logger,
	}
}

// SubscriptionTopics lists the command topic of every mapped box.
func (b *CommandBridge) SubscriptionTopics() []string {
	return LoadpointCommandTopics(b.rootTopic, b.loadpoints)
}

// LoadpointCommandTopics lists the command topic of every non-zero loadpoint.
func LoadpointCommandTopics(rootTopic string, loadpoints []uint8) []string {
	var topics []string
	for _, lp := range loadpoints {
		if lp != 0 {
			topics = append(topics, mqtt.LoadpointCommandTopic(rootTopic, lp))
		}
	}
	return topics
}

// Apply writes the requested current to the first box mapped to the loadpoint.
func (b *CommandBridge) Apply(cmd domain.ExternalCommand) error {
	boxId, ok := b.boxForLoadpoint(cmd.LoadpointId)
	if !ok {
		return fmt.Errorf("loadpoint %d is not mapped to a box: %w", cmd.LoadpointId, domain.ErrValidationRejected)
	}
	if cmd.RequestedAmps < 0 || cmd.RequestedAmps > math.MaxUint16/10 {
		return fmt.Errorf("requested current %d A: %w", cmd.RequestedAmps, domain.ErrValidationRejected)
	}
	deciAmps := uint16(cmd.RequestedAmps * 10)
	if deciAmps != 0 && (deciAmps < b.currMin || deciAmps > b.currMax) {
		return fmt.Errorf("requested current %d A: %w", cmd.RequestedAmps, domain.ErrValidationRejected)
	}
	b.logger.Debug("bridge@apply current request", zap.Uint8("loadpoint", cmd.LoadpointId),
		zap.Uint8("box", boxId), zap.Uint16("current", deciAmps))
	return b.registry.WriteCurrentLimit(boxId, deciAmps, domain.WRITE_SOURCE_BRIDGE)
}

func (b *CommandBridge) boxForLoadpoint(loadpoint uint8) (uint8, bool) {
	for i, lp := range b.loadpoints {
		if lp != 0 && lp == loadpoint {
			return uint8(i), true
		}
	}
	return 0, false
}

// Telemetry builds the retained state publications of every mapped box that
// has been polled at least once.
func (b *CommandBridge) Telemetry() []domain.Publication {
	var pubs []domain.Publication
	for i, lp := range b.loadpoints {
		if lp == 0 {
			continue
		}
		snapshot, ok := b.registry.Snapshot(uint8(i))
		if !ok {
			continue
		}
		pubs = append(pubs, b.boxTelemetry(lp, snapshot)...)
	}
	return pubs
}

func (b *CommandBridge) boxTelemetry(lp uint8, s domain.ChargePointSnapshot) []domain.Publication {
	plugged, charging := plugAndChargeState(s.Status)
	pubs := []domain.Publication{
		b.publication(lp, mqtt.OPENWB_STATE_PLUG, plugged),
		b.publication(lp, mqtt.OPENWB_STATE_CHARGE, charging),
		b.publication(lp, mqtt.OPENWB_STATE_POWER, fmt.Sprintf("%d", s.PowerWatt)),
		b.publication(lp, mqtt.OPENWB_STATE_ENERGY, formatKWh(s.EnergyCounter())),
	}
	for i, v := range s.PhaseVoltages {
		pubs = append(pubs, b.publication(lp, fmt.Sprintf(mqtt.OPENWB_STATE_VOLTAGE, i+1), fmt.Sprintf("%d", v)))
	}
	for i, a := range s.PhaseCurrents {
		pubs = append(pubs, b.publication(lp, fmt.Sprintf(mqtt.OPENWB_STATE_CURRENT, i+1), formatDeciAmps(a)))
	}
	return pubs
}

func (b *CommandBridge) publication(lp uint8, field, payload string) domain.Publication {
	return domain.Publication{
		Topic:   mqtt.LoadpointStateTopic(b.rootTopic, lp, field),
		Payload: payload,
		Retain:  true,
	}
}

// plugAndChargeState maps the box status to the plug and charge flags.
func plugAndChargeState(status uint16) (string, string) {
	switch status {
	case 4, 5, 6:
		return "1", "0"
	case 7:
		return "1", "1"
	default:
		return "0", "0"
	}
}

// formatKWh renders a Wh counter as kWh with three decimals.
func formatKWh(counter uint32) string {
	return fmt.Sprintf("%d.%03d", counter/1000, counter%1000)
}

func formatDeciAmps(deciAmps uint16) string {
	return fmt.Sprintf("%d.%d", deciAmps/10, deciAmps%10)
}
