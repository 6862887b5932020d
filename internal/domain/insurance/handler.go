package insurance

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/checkin/internal/platform/apperr"
	"github.com/ehr/checkin/internal/platform/blobstore"
	"github.com/ehr/checkin/pkg/payload"
)

// CardImagesField is the multipart field carrying card images.
const CardImagesField = "cardImages"

type Handler struct {
	svc    *Service
	blobs  blobstore.BlobStore
	logger zerolog.Logger
}

func NewHandler(svc *Service, blobs blobstore.BlobStore, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, blobs: blobs, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/insurance", h.CreateInsurance)
	api.GET("/insurance/:patientId", h.GetInsurance)
}

// RegisterAdminRoutes mounts the card image download for staff.
func (h *Handler) RegisterAdminRoutes(admin *echo.Group) {
	admin.GET("/uploads/:id", h.DownloadCardImage)
}

func (h *Handler) CreateInsurance(c echo.Context) error {
	body, err := payload.Bind(c)
	if err != nil {
		return err
	}
	uploads, err := cardUploads(c)
	if err != nil {
		return err
	}

	ins, err := h.svc.Create(c.Request().Context(), body, uploads)
	if err != nil {
		return err
	}

	h.logger.Info().
		Int64("patient_id", ins.PatientID).
		Int("card_images", len(ins.CardImages)).
		Str("remote_ip", c.RealIP()).
		Msg("insurance created")
	return c.JSON(http.StatusCreated, map[string]any{
		"message": "Insurance information saved successfully",
		"data":    ins,
	})
}

func cardUploads(c echo.Context) ([]Upload, error) {
	mediaType, _, _ := mime.ParseMediaType(c.Request().Header.Get(echo.HeaderContentType))
	if mediaType != echo.MIMEMultipartForm {
		return nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, apperr.PayloadTooLarge("File size must be less than 5MB")
		}
		return nil, apperr.BadRequest(apperr.CodeValidation, "Invalid form data", err.Error())
	}

	files := form.File[CardImagesField]
	uploads := make([]Upload, 0, len(files))
	for _, fh := range files {
		fh := fh
		uploads = append(uploads, Upload{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get(echo.HeaderContentType),
			Size:        fh.Size,
			Open:        func() (io.ReadCloser, error) { return fh.Open() },
		})
	}
	return uploads, nil
}

func (h *Handler) GetInsurance(c echo.Context) error {
	patientID := payload.PathID(c, "patientId")
	if patientID == 0 {
		return apperr.InvalidPatientID()
	}
	ins, err := h.svc.GetByPatient(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message": "Insurance information retrieved successfully",
		"data":    ins,
	})
}

func (h *Handler) DownloadCardImage(c echo.Context) error {
	rc, meta, err := h.blobs.Download(c.Request().Context(), c.Param("id"))
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return apperr.NotFound(apperr.CodeNotFound, "Card image not found")
	}
	if err != nil {
		return err
	}
	defer rc.Close()

	contentType := meta.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	if meta.Size > 0 {
		c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(meta.Size, 10))
	}
	c.Response().Header().Set("Cache-Control", "private, no-store")
	return c.Stream(http.StatusOK, contentType, rc)
}
