package completion

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
	api.POST("/completion", h.CompleteCheckIn)
	api.GET("/completion/:patientId", h.GetCompletion)
}

type patientSummary struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type completionResponse struct {
	Completion        *Completion    `json:"completion"`
	Patient           patientSummary `json:"patient"`
	EstimatedWaitTime int            `json:"estimatedWaitTime"`
}

func (h *Handler) CompleteCheckIn(c echo.Context) error {
	body, err := payload.Bind(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Complete(c.Request().Context(), body)
	if err != nil {
		return err
	}

	h.logger.Info().
		Int64("patient_id", res.Patient.ID).
		Bool("confirmation_sent", res.Completion.ConfirmationSent).
		Str("remote_ip", c.RealIP()).
		Msg("check-in completed")
	return c.JSON(http.StatusCreated, map[string]any{
		"message": "Check-in completed successfully",
		"data": completionResponse{
			Completion: res.Completion,
			Patient: patientSummary{
				ID:    res.Patient.ID,
				Name:  res.Patient.FullName(),
				Email: res.Patient.Email,
			},
			EstimatedWaitTime: res.Completion.EstimatedWaitTime,
		},
	})
}

func (h *Handler) GetCompletion(c echo.Context) error {
	patientID := payload.PathID(c, "patientId")
	if patientID == 0 {
		return apperr.InvalidPatientID()
	}
	comp, err := h.svc.GetByPatient(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message": "Completion status retrieved successfully",
		"data":    comp,
	})
}
