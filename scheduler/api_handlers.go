package scheduler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// FetchListResponse is the body of GET /_sys/fetch.
type FetchListResponse struct {
	Fetchers []*FetchMetadata `json:"fetchers"`
}

// FetchTriggerResponse is the body of an accepted POST /_sys/fetch/:id.
type FetchTriggerResponse struct {
	FetcherID string `json:"fetcherId"`
	Trigger   string `json:"trigger"`
	Message   string `json:"message"`
}

// RegisterRoutes mounts the status API on e behind CIDRMiddleware.
func (s *Scheduler) RegisterRoutes(e *echo.Echo, allowlist, trustedProxies []string) {
	if e == nil {
		return
	}

	sys := e.Group("/_sys", CIDRMiddleware(allowlist, trustedProxies))
	sys.GET("/fetch", s.listFetchersHandler)
	sys.POST("/fetch/:id", s.triggerFetchHandler)
}

// GET /_sys/fetch
func (s *Scheduler) listFetchersHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, FetchListResponse{Fetchers: s.Jobs()})
}

// POST /_sys/fetch/:id
func (s *Scheduler) triggerFetchHandler(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "fetcher id is required")
	}

	if err := s.Trigger(id); err != nil {
		switch {
		case errors.Is(err, ErrUnknownTarget):
			return echo.NewHTTPError(http.StatusNotFound, "fetcher not found: "+id)
		case errors.Is(err, ErrThrottled):
			return echo.NewHTTPError(http.StatusTooManyRequests, "fetcher ticked less than one interval ago")
		case errors.Is(err, ErrShuttingDown):
			return echo.NewHTTPError(http.StatusServiceUnavailable, "scheduler is shutting down")
		default:
			return err
		}
	}

	return c.JSON(http.StatusAccepted, FetchTriggerResponse{
		FetcherID: id,
		Trigger:   triggerManual,
		Message:   "Request accepted: fetcher will tick unless a tick is already running",
	})
}
