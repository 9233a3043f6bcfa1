package frontdesk

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/clinicqueue/internal/domain/queue"
	"github.com/ehr/clinicqueue/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("/staff", auth.RequireRole(auth.RoleStaff))
	staff.GET("/today-queues", h.TodayQueues)
	staff.GET("/doctors-on-duty", h.DoctorsOnDuty)
	staff.PUT("/doctors-on-duty/:id", h.StartDuty)
	staff.DELETE("/doctors-on-duty/:id", h.EndDuty)
	staff.GET("/enhanced-patient-data/:id", h.EnhancedPatientData)
	staff.POST("/doctors", h.RegisterDoctor)
	staff.POST("/patients", h.RegisterPatient)
	staff.POST("/treatment-sessions", h.RecordTreatment)
	staff.POST("/queues", h.Enqueue)
	staff.POST("/update-queue-status", h.UpdateQueueStatus)
	staff.POST("/skip-queue", h.SkipQueue)
	staff.POST("/prioritize-emergency-patient", h.PrioritizeEmergencyPatient)
	staff.POST("/send-to-emergency", h.SendToEmergency)
	staff.POST("/start-queue", h.StartQueue)
	staff.POST("/update-emergency-statuses", h.UpdateEmergencyStatuses)

	doctor := api.Group("/doctor", auth.RequireRole(auth.RoleDoctor))
	doctor.GET("/assigned-patients", h.AssignedPatients)
}

func (h *Handler) TodayQueues(c echo.Context) error {
	tq, err := h.svc.TodayQueue(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"queues": tq.Entries})
}

func (h *Handler) DoctorsOnDuty(c echo.Context) error {
	tq, err := h.svc.TodayQueue(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"doctors": tq.Doctors})
}

func (h *Handler) StartDuty(c echo.Context) error {
	return h.setDuty(c, true)
}

func (h *Handler) EndDuty(c echo.Context) error {
	return h.setDuty(c, false)
}

func (h *Handler) setDuty(c echo.Context, onDuty bool) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.SetOnDuty(c.Request().Context(), id, onDuty); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) EnhancedPatientData(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.TreatmentProfile(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) RegisterDoctor(c echo.Context) error {
	var d queue.Doctor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.RegisterDoctor(c.Request().Context(), d); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"doctor": d})
}

func (h *Handler) RegisterPatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.RegisterPatient(c.Request().Context(), &p); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"patient": p})
}

type treatmentRequest struct {
	UserID      int64     `json:"user_id"`
	SessionDate time.Time `json:"session_date"`
	Note        string    `json:"note"`
}

func (h *Handler) RecordTreatment(c echo.Context) error {
	var req treatmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	if err := h.svc.RecordTreatment(c.Request().Context(), req.UserID, req.SessionDate, req.Note); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusCreated)
}

type enqueueRequest struct {
	UserID int64 `json:"user_id"`
}

func (h *Handler) Enqueue(c echo.Context) error {
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	e, err := h.svc.Enqueue(c.Request().Context(), req.UserID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"queue": e})
}

type statusRequest struct {
	QueueID       int64   `json:"queue_id"`
	Status        string  `json:"status"`
	DoctorID      *int64  `json:"doctor_id"`
	CheckupStatus *string `json:"checkup_status"`
}

func (h *Handler) UpdateQueueStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.QueueID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "queue_id is required")
	}
	status, err := queue.ParseStatus(req.Status)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u := queue.StatusUpdate{QueueID: req.QueueID, Status: status, DoctorID: req.DoctorID, CheckupStatus: req.CheckupStatus}
	e, err := h.svc.UpdateStatus(c.Request().Context(), u)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"queue": e})
}

type queueRequest struct {
	QueueID   int64 `json:"queue_id"`
	Positions int   `json:"positions"`
}

func bindQueueRequest(c echo.Context) (queueRequest, error) {
	var req queueRequest
	if err := c.Bind(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.QueueID <= 0 {
		return req, echo.NewHTTPError(http.StatusBadRequest, "queue_id is required")
	}
	return req, nil
}

func (h *Handler) SkipQueue(c echo.Context) error {
	req, err := bindQueueRequest(c)
	if err != nil {
		return err
	}
	if err := h.svc.Skip(c.Request().Context(), req.QueueID, req.Positions); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"message": "Patient skipped"})
}

func (h *Handler) PrioritizeEmergencyPatient(c echo.Context) error {
	req, err := bindQueueRequest(c)
	if err != nil {
		return err
	}
	if err := h.svc.Prioritize(c.Request().Context(), req.QueueID); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"message": "Patient prioritized"})
}

func (h *Handler) SendToEmergency(c echo.Context) error {
	req, err := bindQueueRequest(c)
	if err != nil {
		return err
	}
	if err := h.svc.SendToEmergency(c.Request().Context(), req.QueueID); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"message": "Patient sent to emergency"})
}

func (h *Handler) StartQueue(c echo.Context) error {
	started, err := h.svc.StartQueue(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"started": nonNil(started)})
}

func (h *Handler) UpdateEmergencyStatuses(c echo.Context) error {
	if err := h.svc.UpdateEmergencyStatuses(c.Request().Context()); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"message": "Emergency statuses updated"})
}

func (h *Handler) AssignedPatients(c echo.Context) error {
	doctorID, err := auth.NumericUserID(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	patients, err := h.svc.AssignedPatients(c.Request().Context(), doctorID, c.QueryParam("search"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"patients": patients})
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// toHTTPError maps service errors to responses. Business rejections are 4xx
// so callers surface them without retrying; anything else is a 500.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, queue.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrStaleState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case queue.IsBusinessError(err), errors.Is(err, ErrDoctorOffDuty), errors.Is(err, ErrAlreadyQueued):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}
