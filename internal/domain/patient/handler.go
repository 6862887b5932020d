package patient

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/checkin/internal/platform/apperr"
	"github.com/ehr/checkin/pkg/payload"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/patients", h.CreatePatient)
	api.GET("/patients/:id", h.GetPatient)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	body, err := payload.Bind(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Register(c.Request().Context(), body)
	if err != nil {
		return err
	}

	h.logger.Info().Int64("patient_id", p.ID).Str("remote_ip", c.RealIP()).Msg("patient created")
	return c.JSON(http.StatusCreated, map[string]any{
		"message": "Patient demographics saved successfully",
		"patient": p,
	})
}

func (h *Handler) GetPatient(c echo.Context) error {
	id := payload.PathID(c, "id")
	if id == 0 {
		return apperr.InvalidPatientID()
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message": "Patient retrieved successfully",
		"data":    p,
	})
}
