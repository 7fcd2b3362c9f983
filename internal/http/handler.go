package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"traffic-anpr-service/internal/domain/anpr"
	"traffic-anpr-service/internal/metrics"
	"traffic-anpr-service/internal/service"
)

type Handler struct {
	ingestService *service.IngestService
	anprService   *service.ANPRService
	alprService   *service.ALPRService
	metrics       *metrics.Metrics
	log           zerolog.Logger
}

func NewHandler(
	ingestService *service.IngestService,
	anprService *service.ANPRService,
	alprService *service.ALPRService,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		ingestService: ingestService,
		anprService:   anprService,
		alprService:   alprService,
		metrics:       m,
		log:           log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware, webhookMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.GET("/vehicles", h.listVehicles)
		public.GET("/visits", h.listVisits)
	}

	webhooks := r.Group("/api/v1/webhooks")
	webhooks.Use(webhookMiddleware)
	{
		webhooks.POST("/plate-recognizer", h.plateRecognizerWebhook)
		webhooks.POST("/parkpow", h.parkPowWebhook)
	}

	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/alpr/recognize", h.recognize)
		protected.GET("/alpr/statistics", h.statistics)
		protected.POST("/cameras", h.createCamera)
		protected.GET("/cameras", h.listCameras)
	}
}

func (h *Handler) plateRecognizerWebhook(c *gin.Context) {
	provider := string(anpr.ProviderPlateRecognizer)

	payload, err := bindPlateRecognizerPayload(c)
	if err != nil {
		h.metrics.RecordWebhook(provider, "rejected")
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	payload.Provider = anpr.ProviderPlateRecognizer

	h.ingest(c, payload)
}

func (h *Handler) parkPowWebhook(c *gin.Context) {
	provider := string(anpr.ProviderParkPow)

	var pp anpr.ParkPowPayload
	if err := c.ShouldBindJSON(&pp); err != nil {
		h.metrics.RecordWebhook(provider, "rejected")
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if err := pp.Validate(); err != nil {
		h.metrics.RecordWebhook(provider, "rejected")
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	h.ingest(c, pp.ToWebhookPayload())
}

func (h *Handler) ingest(c *gin.Context, payload anpr.WebhookPayload) {
	provider := string(payload.Provider)

	result, err := h.ingestService.Ingest(c.Request.Context(), payload)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			h.metrics.RecordWebhook(provider, "rejected")
		} else {
			h.metrics.RecordWebhook(provider, "error")
		}
		h.handleError(c, err)
		return
	}

	h.metrics.RecordWebhook(provider, "accepted")
	c.JSON(http.StatusOK, result)
}

// bindPlateRecognizerPayload accepts the JSON body or the multipart form the
// provider uses when it attaches the image ("json" field plus "upload" file).
func bindPlateRecognizerPayload(c *gin.Context) (anpr.WebhookPayload, error) {
	var payload anpr.WebhookPayload

	if !strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		if err := c.ShouldBindJSON(&payload); err != nil {
			return payload, err
		}
		return payload, nil
	}

	raw := c.PostForm("json")
	if raw == "" {
		return payload, errors.New("json form field is required")
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return payload, fmt.Errorf("invalid json form field: %w", err)
	}

	fh, err := c.FormFile("upload")
	if errors.Is(err, http.ErrMissingFile) {
		return payload, nil
	}
	if err != nil {
		return payload, err
	}
	f, err := fh.Open()
	if err != nil {
		return payload, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return payload, err
	}
	payload.Image = base64.StdEncoding.EncodeToString(data)
	return payload, nil
}

func (h *Handler) listVehicles(c *gin.Context) {
	plateQuery := strings.TrimSpace(c.Query("plate"))
	if plateQuery == "" {
		c.JSON(http.StatusBadRequest, errorResponse("plate parameter is required"))
		return
	}

	vehicles, err := h.anprService.FindVehicles(c.Request.Context(), plateQuery)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(vehicles))
}

func (h *Handler) listVisits(c *gin.Context) {
	q := service.VisitQuery{
		Plate:      optionalQuery(c, "plate"),
		CameraCode: optionalQuery(c, "camera_code"),
		From:       optionalQuery(c, "from"),
		To:         optionalQuery(c, "to"),
		Limit:      50,
	}

	var err error
	if q.VehicleID, err = optionalID(c, "vehicle_id"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if q.CameraID, err = optionalID(c, "camera_id"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			q.Limit = parsed
		}
	}
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			q.Offset = parsed
		}
	}

	visits, err := h.anprService.FindVisits(c.Request.Context(), q)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(visits))
}

func optionalQuery(c *gin.Context, key string) *string {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return nil
	}
	return &v
}

func optionalID(c *gin.Context, key string) (*int64, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%s must be a positive integer", key)
	}
	return &id, nil
}

func (h *Handler) recognize(c *gin.Context) {
	var in service.RecognizeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.alprService.Recognize(c.Request.Context(), in)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) statistics(c *gin.Context) {
	stats, err := h.alprService.Statistics(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(stats))
}

func (h *Handler) createCamera(c *gin.Context) {
	var in service.CameraInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	camera, err := h.anprService.CreateCamera(c.Request.Context(), in)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse(camera))
}

func (h *Handler) listCameras(c *gin.Context) {
	cameras, err := h.anprService.ListCameras(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(cameras))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrUpstream):
		h.log.Warn().Err(err).Msg("upstream provider error")
		c.JSON(http.StatusBadGateway, errorResponse(err.Error()))
	case errors.Is(err, service.ErrUnsupported):
		c.JSON(http.StatusNotImplemented, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
