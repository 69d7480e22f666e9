package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/citas/internal/platform/auth"
	"github.com/ehr/citas/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/session", h.Session)
	api.GET("/specialties", h.ListSpecialties)
	api.GET("/doctors", h.ListDoctors)
	api.GET("/doctors/:id/slots", h.ListSlots)
	api.GET("/next-date", h.NextDate)
	api.GET("/appointments/permissions", h.GetPermissions)
	api.POST("/appointments", h.CreateAppointment)
	api.PUT("/appointments/:id", h.UpdateAppointment)

	api.GET("/patients", h.ListPatients, auth.RequireRole(RoleAdmin))
	api.POST("/availability", h.PublishAvailability, auth.RequireRole(RoleDoctor))
}

func actorFrom(c echo.Context) (Actor, error) {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return actor, nil
}

// errorResponse maps service errors to HTTP errors.
func errorResponse(err error) error {
	var verrs ValidationErrors
	var upstreamErr interface{ UpstreamStatus() int }
	switch {
	case errors.As(err, &verrs):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"message": "validation failed",
			"errors":  verrs,
		})
	case errors.Is(err, ErrDoctorNotFound), errors.Is(err, ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSlotOccupied):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUnknownWeekday):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &upstreamErr):
		code := upstreamErr.UpstreamStatus()
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return echo.NewHTTPError(code, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, ErrUpstream):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) Session(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"actor":         actor,
	})
}

func (h *Handler) ListSpecialties(c echo.Context) error {
	specs, err := h.svc.Specialties(c.Request().Context())
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, specs)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	docs, err := h.svc.Doctors(c.Request().Context(), c.QueryParam("specialty_id"))
	if err != nil {
		return errorResponse(err)
	}
	start, end := pg.Window(len(docs))
	return c.JSON(http.StatusOK, pagination.NewResponse(docs[start:end], len(docs), pg.Limit, pg.Offset))
}

func (h *Handler) ListPatients(c echo.Context) error {
	patients, err := h.svc.Patients(c.Request().Context())
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) ListSlots(c echo.Context) error {
	q := SlotQuery{
		DoctorID:             c.Param("id"),
		ExcludeAppointmentID: c.QueryParam("appointment_id"),
	}
	if raw := c.QueryParam("free"); raw != "" {
		free, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "free must be a boolean")
		}
		q.FreeOnly = free
	}

	list, err := h.svc.Slots(c.Request().Context(), q)
	if err != nil && !errors.Is(err, ErrNoSchedules) {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) NextDate(c echo.Context) error {
	weekday := c.QueryParam("weekday")
	if weekday == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "weekday is required")
	}
	var today time.Time
	if raw := c.QueryParam("today"); raw != "" {
		t, err := time.ParseInLocation(DateLayout, raw, time.Local)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "today must be formatted YYYY-MM-DD")
		}
		today = t
	}
	date, err := h.svc.ResolveNextDate(weekday, today)
	if err != nil {
		return errorResponse(err)
	}
	w, _ := NormalizeWeekday(weekday)
	return c.JSON(http.StatusOK, map[string]string{
		"weekday": string(w),
		"date":    date,
	})
}

func (h *Handler) GetPermissions(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	perms, appt, err := h.svc.FieldPermissions(c.Request().Context(), actor, c.QueryParam("appointment_id"))
	if err != nil {
		return errorResponse(err)
	}
	mode := ModeCreating
	if appt != nil {
		mode = ModeEditing
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"mode":        mode,
		"permissions": perms,
		"appointment": appt,
	})
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var in AppointmentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.svc.CreateAppointment(c.Request().Context(), actor, in)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var in AppointmentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.svc.UpdateAppointment(c.Request().Context(), actor, c.Param("id"), in)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) PublishAvailability(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var in AvailabilityInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.PublishAvailability(c.Request().Context(), actor, in); err != nil {
		return errorResponse(err)
	}
	return c.NoContent(http.StatusCreated)
}
