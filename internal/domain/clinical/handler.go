package clinical

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
	api.POST("/clinical-forms", h.CreateClinicalForms)
	api.GET("/clinical-forms/:patientId", h.GetClinicalForms)
}

func (h *Handler) CreateClinicalForms(c echo.Context) error {
	body, err := payload.Bind(c)
	if err != nil {
		return err
	}
	f, err := h.svc.Create(c.Request().Context(), body)
	if err != nil {
		return err
	}

	h.logger.Info().Int64("patient_id", f.PatientID).Str("remote_ip", c.RealIP()).Msg("clinical forms created")
	return c.JSON(http.StatusCreated, map[string]any{
		"message": "Clinical forms saved successfully",
		"data":    f,
	})
}

func (h *Handler) GetClinicalForms(c echo.Context) error {
	patientID := payload.PathID(c, "patientId")
	if patientID == 0 {
		return apperr.InvalidPatientID()
	}
	f, err := h.svc.GetByPatient(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message": "Clinical forms retrieved successfully",
		"data":    f,
	})
}
