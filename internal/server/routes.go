package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/berfenger/wbec2mqtt/internal/core/domain"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type BoxState struct {
	BoxId        uint8  `json:"boxId"`
	Valid        bool   `json:"valid"`
	Status       uint16 `json:"status"`
	PowerWatt    uint16 `json:"power"`
	CurrentLimit uint16 `json:"currLim"`
	EnergyWh     uint32 `json:"energy"`
}

type PvState struct {
	GridPower      int32      `json:"watt"`
	AvailablePower int32      `json:"availPower"`
	Mode           string     `json:"pvMode"`
	TargetBoxId    uint8      `json:"pvWbId"`
	Boxes          []BoxState `json:"boxes"`
}

type FirmwareUpdateState struct {
	Active bool `json:"active"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	e.GET("/pv", s.PvHandler)
	e.POST("/firmware-update", s.FirmwareUpdateHandler(true))
	e.DELETE("/firmware-update", s.FirmwareUpdateHandler(false))

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, REQUEST_TIMEOUT).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, fmt.Sprintf("health_check: OK (%s)", versioninfo.Short()))
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

// PvHandler applies the optional watt, pvMode and pvWbId query parameters in
// that order and answers with the resulting controller state.
func (s *Server) PvHandler(c echo.Context) error {
	requests, err := pvQueryRequests(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	for _, req := range requests {
		res, err := s.request(req)
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		if err := pvRequestError(res); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	res, err := s.request(domain.GetPvStateRequest{})
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	state, ok := res.(domain.GetPvStateResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected pv state response")
	}
	return c.JSON(http.StatusOK, PvStateFromResponse(state))
}

func (s *Server) FirmwareUpdateHandler(active bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := s.request(domain.FirmwareUpdateRequest{Active: active})
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		resp, ok := res.(domain.FirmwareUpdateResponse)
		if !ok {
			return echo.NewHTTPError(http.StatusInternalServerError, "unexpected firmware update response")
		}
		return c.JSON(http.StatusOK, FirmwareUpdateState{Active: resp.Active})
	}
}

func (s *Server) request(msg any) (any, error) {
	return s.rootContext.RequestFuture(s.masterActor, msg, REQUEST_TIMEOUT).Result()
}

func pvQueryRequests(c echo.Context) ([]domain.PvControlRequest, error) {
	var requests []domain.PvControlRequest
	if value := c.QueryParam("watt"); value != "" {
		watt, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid watt %q", value)
		}
		requests = append(requests, domain.SetGridPowerRequest{Watt: int32(watt)})
	}
	if value := c.QueryParam("pvMode"); value != "" {
		mode, err := domain.ParsePvMode(value)
		if err != nil {
			return nil, err
		}
		requests = append(requests, domain.SetPvModeRequest{Mode: mode})
	}
	if value := c.QueryParam("pvWbId"); value != "" {
		boxId, err := strconv.ParseUint(value, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid pvWbId %q", value)
		}
		requests = append(requests, domain.SetTargetBoxRequest{BoxId: uint8(boxId)})
	}
	return requests, nil
}

func pvRequestError(res any) error {
	switch resp := res.(type) {
	case domain.SetGridPowerResponse:
		if !resp.Accepted {
			return errors.New("watt out of range")
		}
	case domain.SetPvModeResponse:
		return resp.GetResponseError()
	case domain.SetTargetBoxResponse:
		return resp.GetResponseError()
	}
	return nil
}

func PvStateFromResponse(resp domain.GetPvStateResponse) PvState {
	state := PvState{
		GridPower:      resp.GridPower,
		AvailablePower: resp.State.FilteredAvailablePower,
		Mode:           resp.State.Mode.String(),
		TargetBoxId:    resp.State.TargetBoxId,
		Boxes:          make([]BoxState, 0, len(resp.Boxes)),
	}
	for _, box := range resp.Boxes {
		state.Boxes = append(state.Boxes, BoxState{
			BoxId:        box.BoxId,
			Valid:        box.Valid,
			Status:       box.Status,
			PowerWatt:    box.PowerWatt,
			CurrentLimit: box.CurrentLimit,
			EnergyWh:     box.EnergyCounter(),
		})
	}
	return state
}
