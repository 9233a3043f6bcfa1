package engine

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/clinicqueue/internal/domain/queue"
	"github.com/ehr/clinicqueue/internal/platform/auth"
	"github.com/ehr/clinicqueue/pkg/pagination"
)

// Handler serves the operator API over the engine's mirror.
type Handler struct {
	sync *Synchronizer
	mut  *Mutator
}

func NewHandler(syncer *Synchronizer, mut *Mutator) *Handler {
	return &Handler{sync: syncer, mut: mut}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/queue")

	// Read endpoints – staff and doctors
	read := g.Group("", auth.RequireRole(auth.RoleStaff, auth.RoleDoctor))
	read.GET("", h.GetSnapshot)
	read.GET("/counts", h.GetCounts)
	read.GET("/entries", h.ListEntries)
	read.GET("/waiting", h.ListWaiting)
	read.GET("/next", h.ListNext)
	read.GET("/emergencies", h.ListEmergencies)
	read.GET("/doctors/available", h.ListAvailableDoctors)
	read.GET("/doctors/:id/patients", h.ListDoctorPatients)
	read.GET("/my-patients", h.ListMyPatients, auth.RequireRole(auth.RoleDoctor))

	// Write endpoints – staff
	write := g.Group("", auth.RequireRole(auth.RoleStaff))
	write.POST("/start", h.StartNext)
	write.POST("/sync", h.Sync)
	write.POST("/entries/:id/status", h.SetStatus)
	write.POST("/entries/:id/skip", h.Skip)
	write.POST("/entries/:id/prioritize", h.Prioritize)
	write.POST("/entries/:id/send-to-emergency", h.SendToEmergency)
	write.POST("/emergency-statuses/refresh", h.RefreshEmergencyStatuses)
}

func (h *Handler) current() (*Snapshot, error) {
	snap := h.sync.Current()
	if !snap.Ready() {
		msg := "queue not synchronized yet"
		if snap != nil && snap.LastError != "" {
			msg += ": " + snap.LastError
		}
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, msg)
	}
	return snap, nil
}

func (h *Handler) GetSnapshot(c echo.Context) error {
	snap, err := h.current()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) GetCounts(c echo.Context) error {
	snap, err := h.current()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap.Counts)
}

func (h *Handler) ListEntries(c echo.Context) error {
	snap, err := h.current()
	if err != nil {
		return err
	}
	view := snap.View()
	entries := view.Active()
	if s := c.QueryParam("status"); s != "" && s != "all" {
		status, err := queue.ParseStatus(s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		entries = view.ByStatus(status)
	}
	return c.JSON(http.StatusOK, pagination.Page(entries, pagination.FromContext(c)))
}

func (h *Handler) ListWaiting(c echo.Context) error {
	snap, err := h.current()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Page(snap.Waiting, pagination.FromContext(c)))
}

func (h *Handler) ListNext(c echo.Context) error {
	snap, err := h.current()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"next": snap.Next})
}

func (h *Handler) ListEmergencies(c echo.Context) error {
	snap, err := h.current()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"emergencies": nonNil(snap.View().Emergencies())})
}

func (h *Handler) ListAvailableDoctors(c echo.Context) error {
	snap, err := h.current()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"doctors": snap.Available})
}

func (h *Handler) ListDoctorPatients(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	return h.doctorPatients(c, id)
}

func (h *Handler) ListMyPatients(c echo.Context) error {
	id, err := auth.NumericUserID(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	return h.doctorPatients(c, id)
}

func (h *Handler) doctorPatients(c echo.Context, doctorID int64) error {
	snap, err := h.current()
	if err != nil {
		return err
	}
	patients := snap.View().AssignedTo(doctorID, c.QueryParam("search"))
	return c.JSON(http.StatusOK, map[string]interface{}{"patients": nonNil(patients)})
}

func (h *Handler) StartNext(c echo.Context) error {
	started, err := h.mut.StartNext(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"started": nonNil(started)})
}

func (h *Handler) Sync(c echo.Context) error {
	snap, err := h.sync.Sync(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

type statusRequest struct {
	Status   string `json:"status"`
	DoctorID *int64 `json:"doctor_id"`
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	status, err := queue.ParseStatus(req.Status)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.mut.SetStatus(c.Request().Context(), id, status, req.DoctorID)
	if err != nil {
		return toHTTPError(err)
	}
	if updated == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, updated)
}

type skipRequest struct {
	Positions int `json:"positions"`
}

func (h *Handler) Skip(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req skipRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	if err := h.mut.Skip(c.Request().Context(), id, req.Positions); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Prioritize(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.mut.Prioritize(c.Request().Context(), id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SendToEmergency(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.mut.SendToEmergency(c.Request().Context(), id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RefreshEmergencyStatuses(c echo.Context) error {
	if err := h.mut.RefreshEmergencyStatuses(c.Request().Context()); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// toHTTPError maps engine and provider errors to operator-facing responses.
func toHTTPError(err error) error {
	var rej *queue.RejectionError
	switch {
	case errors.Is(err, queue.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusUnauthorized, "queue session expired")
	case errors.Is(err, queue.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &rej):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, rej.Message)
	case queue.IsBusinessError(err):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
