package submission

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ehr/checkin/internal/platform/apperr"
	"github.com/ehr/checkin/internal/platform/sanitize"
	"github.com/ehr/checkin/pkg/pagination"
	"github.com/ehr/checkin/pkg/payload"
)

var tracer = otel.Tracer("github.com/ehr/checkin/internal/domain/submission")

type Handler struct {
	repo   Repository
	logger zerolog.Logger
}

func NewHandler(repo Repository, logger zerolog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// RegisterRoutes mounts the admin list and detail views on an already
// authenticated group.
func (h *Handler) RegisterRoutes(admin *echo.Group) {
	admin.GET("/submissions", h.ListSubmissions)
	admin.GET("/submissions/:id", h.GetSubmission)
}

// ParseFilter reads the admin list query. Unparseable dates are ignored
// rather than rejected; an unknown status is a 400.
func ParseFilter(c echo.Context) (Filter, error) {
	status, ok := ParseStatus(c.QueryParam("status"))
	if !ok {
		return Filter{}, apperr.BadRequest(apperr.CodeInvalidStatus, "Invalid status parameter",
			`Status must be either "completed" or "incomplete"`)
	}
	f := Filter{Status: status, Page: pagination.FromContext(c)}
	if s, _ := sanitize.String(c.QueryParam("search")).(string); s != "" {
		f.Search = s
	}
	f.DateFrom = queryDate(c, "dateFrom")
	f.DateTo = queryDate(c, "dateTo")
	return f, nil
}

func queryDate(c echo.Context, name string) *time.Time {
	d, ok := sanitize.Date(c.QueryParam(name))
	if !ok {
		return nil
	}
	t, err := time.Parse(sanitize.DateLayout, d)
	if err != nil {
		return nil
	}
	return &t
}

func (h *Handler) ListSubmissions(c echo.Context) error {
	f, err := ParseFilter(c)
	if err != nil {
		return err
	}

	ctx, span := tracer.Start(c.Request().Context(), "submission.List")
	defer span.End()
	span.SetAttributes(attribute.String("filter.status", string(f.Status)), attribute.Bool("filter.search", f.Search != ""))

	items, total, err := h.repo.List(ctx, f)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if items == nil {
		items = []*Summary{}
	}

	h.logger.Info().
		Int("returned", len(items)).
		Int("total", total).
		Str("remote_ip", c.RealIP()).
		Msg("admin submissions accessed")
	return c.JSON(http.StatusOK, map[string]any{
		"message": "Submissions retrieved successfully",
		"data":    items,
		"total":   total,
	})
}

func (h *Handler) GetSubmission(c echo.Context) error {
	id := payload.PathID(c, "id")
	if id == 0 {
		return apperr.BadRequest(apperr.CodeInvalidSubmissionID, "Invalid submission ID",
			"Submission ID must be a positive integer")
	}

	ctx, span := tracer.Start(c.Request().Context(), "submission.Get")
	defer span.End()
	span.SetAttributes(attribute.Int64("patient.id", id))

	d, err := h.repo.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if d == nil {
		return &apperr.Error{
			Status:  http.StatusNotFound,
			Title:   "Submission not found",
			Message: "No submission found with the provided ID",
			Code:    apperr.CodeSubmissionNotFound,
		}
	}

	h.logger.Info().Int64("patient_id", id).Str("remote_ip", c.RealIP()).Msg("admin detail view accessed")
	return c.JSON(http.StatusOK, map[string]any{
		"message": "Submission details retrieved successfully",
		"data":    d,
	})
}
