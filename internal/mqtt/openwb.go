package mqtt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/berfenger/wbec2mqtt/internal/core/domain"
)

const (
	OPENWB_COMMAND_CURRENT = "AConfigured"
	OPENWB_STATE_PLUG      = "plugStat"
	OPENWB_STATE_CHARGE    = "chargeStat"
	OPENWB_STATE_POWER     = "W"
	OPENWB_STATE_ENERGY    = "kWhCounter"
	OPENWB_STATE_VOLTAGE   = "VPhase%d"
	OPENWB_STATE_CURRENT   = "APhase%d"
)

var ErrInvalidCommand = errors.New("invalid loadpoint command")

// LoadpointCommandTopic is the inbound current request topic of a loadpoint,
// <root>/lp/<id>/AConfigured.
func LoadpointCommandTopic(rootTopic string, loadpoint uint8) string {
	return fmt.Sprintf("%s/lp/%d/%s", rootTopic, loadpoint, OPENWB_COMMAND_CURRENT)
}

// LoadpointStateTopic is the outbound telemetry topic of a loadpoint field,
// <root>/set/lp/<id>/<field>.
func LoadpointStateTopic(rootTopic string, loadpoint uint8, field string) string {
	return fmt.Sprintf("%s/set/lp/%d/%s", rootTopic, loadpoint, field)
}

// ParseLoadpointCommand parses <root>/lp/<id>/AConfigured with an integer amps
// payload. The root may span several topic levels.
func ParseLoadpointCommand(rootTopic, topic string, payload []byte) (*domain.ExternalCommand, error) {
	prefix := rootTopic + "/lp/"
	if !strings.HasPrefix(topic, prefix) {
		return nil, fmt.Errorf("%w: unexpected topic %q", ErrInvalidCommand, topic)
	}
	levels := strings.Split(strings.TrimPrefix(topic, prefix), "/")
	if len(levels) != 2 || levels[1] != OPENWB_COMMAND_CURRENT {
		return nil, fmt.Errorf("%w: unexpected topic %q", ErrInvalidCommand, topic)
	}
	loadpoint, err := strconv.ParseUint(levels[0], 10, 8)
	if err != nil || loadpoint == 0 {
		return nil, fmt.Errorf("%w: invalid loadpoint %q", ErrInvalidCommand, levels[0])
	}
	amps, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid payload %q", ErrInvalidCommand, string(payload))
	}
	return &domain.ExternalCommand{
		LoadpointId:   uint8(loadpoint),
		RequestedAmps: amps,
	}, nil
}

// IsLoadpointCommandTopic reports whether topic belongs to the loadpoint command tree.
func IsLoadpointCommandTopic(rootTopic, topic string) bool {
	return strings.HasPrefix(topic, rootTopic+"/lp/")
}
