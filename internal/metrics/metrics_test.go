package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/berfenger/wbec2mqtt/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservePvState(t *testing.T) {

	m := New(prometheus.NewRegistry())

	m.ObservePvState(domain.GetPvStateResponse{
		State: domain.ControlState{
			Mode:                   domain.PvModePvOnly,
			FilteredAvailablePower: 3550,
			TargetBoxId:            1,
		},
		GridPower: -2300,
	})

	assert.Equal(t, -2300.0, testutil.ToFloat64(m.gridPower))
	assert.Equal(t, 3550.0, testutil.ToFloat64(m.availablePower))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.pvMode))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pvTargetBox))
}

func TestCounters(t *testing.T) {

	m := New(prometheus.NewRegistry())

	m.CountBridgeCommand(RESULT_OK)
	m.CountBridgeCommand(RESULT_REJECTED)
	m.CountBridgeCommand(RESULT_REJECTED)
	m.CountBoxWrite(0, domain.WRITE_SOURCE_PV, nil)
	m.CountBoxWrite(0, domain.WRITE_SOURCE_PV, errors.New("timeout"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bridgeCommands.WithLabelValues(RESULT_REJECTED)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.boxWrites.WithLabelValues("0", "pv", RESULT_ERROR)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.boxWrites.WithLabelValues("0", "pv", RESULT_OK)))
}

func TestInvalidSnapshotIgnored(t *testing.T) {

	m := New(prometheus.NewRegistry())

	m.ObserveSnapshot(domain.ChargePointSnapshot{BoxId: 0, Status: 7, Valid: false})

	assert.Equal(t, 0, testutil.CollectAndCount(m.boxStatus))
}

func TestNilMetrics(t *testing.T) {

	var m *Metrics

	assert.NotPanics(t, func() {
		m.CountBridgeCommand(RESULT_OK)
		m.CountBoxWrite(1, domain.WRITE_SOURCE_BRIDGE, nil)
		m.ObserveSnapshot(domain.ChargePointSnapshot{Valid: true})
		m.ObservePvState(domain.GetPvStateResponse{})
	})
	assert.Nil(t, m.ModbusInstrument())
}

func TestHandler(t *testing.T) {

	require := require.New(t)

	m := New(prometheus.NewRegistry())
	m.ObserveSnapshot(domain.ChargePointSnapshot{BoxId: 1, Status: 7, PowerWatt: 4140, Valid: true})
	m.ModbusInstrument().RecordTime("ReadRegisters", 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(strings.Contains(body, `wbec_box_power_watt{box="1"} 4140`))
	require.True(strings.Contains(body, `wbec_modbus_call_seconds_count{fn="ReadRegisters"} 1`))
}
