package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CanopyCatalog/canopy/backend/internal/bundle"
	"github.com/CanopyCatalog/canopy/backend/internal/catalog"
	"github.com/CanopyCatalog/canopy/backend/internal/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	editorContextKey = "canopy_editor_subject"

	bundlePath       = "/bundle"
	bundleLatestPath = "/bundle/latest"

	bundleCacheControl = "public, max-age=60, stale-while-revalidate=300"
	bundleContentType  = "application/gzip"
)

var (
	errMissingCatalogService = errors.New("catalog service dependency required")
	errMissingCatalogReader  = errors.New("catalog reader dependency required")
	errMissingBuilder        = errors.New("bundle builder dependency required")
	errMissingTokenValidator = errors.New("token validator dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator checks editor bearer tokens and returns the subject.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// Dependencies wires the HTTP surface to the bundle subsystem.
type Dependencies struct {
	CatalogService *catalog.Service
	CatalogReader  *catalog.Reader
	Builder        *bundle.Builder
	Tokens         TokenValidator
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router serving bundle fetches, the delta
// feed and the guarded catalog write API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.CatalogService == nil {
		return nil, errMissingCatalogService
	}
	if deps.CatalogReader == nil {
		return nil, errMissingCatalogReader
	}
	if deps.Builder == nil {
		return nil, errMissingBuilder
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if deps.Metrics != nil {
		router.Use(deps.Metrics.GinMiddleware())
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "If-None-Match"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		catalogService: deps.CatalogService,
		catalogReader:  deps.CatalogReader,
		builder:        deps.Builder,
		tokens:         deps.Tokens,
		logger:         logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	router.GET(bundlePath, handler.handleGetBundle)
	router.GET(bundleLatestPath, handler.handleBundleLatest)
	router.GET("/catalog/delta", handler.handleDelta)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/catalog/products", handler.handleCreateProduct)
	protected.PUT("/catalog/products/:id", handler.handleUpdateProduct)
	protected.DELETE("/catalog/products/:id", handler.handleDeleteProduct)
	protected.POST("/catalog/import", handler.handleImport)

	return router, nil
}

type httpHandler struct {
	catalogService *catalog.Service
	catalogReader  *catalog.Reader
	builder        *bundle.Builder
	tokens         TokenValidator
	logger         *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleGetBundle serves the latest compressed artifact with conditional-GET
// semantics: an exact If-None-Match hit short-circuits to 304 with no body.
func (h *httpHandler) handleGetBundle(c *gin.Context) {
	manifest, err := h.builder.Latest(c.Request.Context())
	if err != nil {
		if errors.Is(err, bundle.ErrNoBundle) {
			c.JSON(http.StatusNotFound, gin.H{"error": "bundle_not_built"})
			return
		}
		h.logger.Error("bundle manifest lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "bundle_unavailable"})
		return
	}

	c.Header("ETag", manifest.ETag)
	c.Header("Cache-Control", bundleCacheControl)

	if match := c.GetHeader("If-None-Match"); match != "" && match == manifest.ETag {
		c.Status(http.StatusNotModified)
		return
	}

	payload, err := h.builder.ReadArtifact(manifest)
	if err != nil {
		h.logger.Error("bundle artifact read failed", zap.Error(err), zap.String("path", manifest.Path))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "bundle_unavailable"})
		return
	}

	c.Data(http.StatusOK, bundleContentType, payload)
}

// handleBundleLatest redirects to the fixed bundle path, propagating ETag
// and Content-Length for clients that inspect redirect headers. The status
// is written directly: http.Redirect would add an HTML body for GET, which
// contradicts the advertised artifact length.
func (h *httpHandler) handleBundleLatest(c *gin.Context) {
	manifest, err := h.builder.Latest(c.Request.Context())
	if err != nil {
		if errors.Is(err, bundle.ErrNoBundle) {
			c.JSON(http.StatusNotFound, gin.H{"error": "bundle_not_built"})
			return
		}
		h.logger.Error("bundle manifest lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "bundle_unavailable"})
		return
	}

	c.Header("Location", bundlePath)
	c.Header("ETag", manifest.ETag)
	c.Header("Content-Length", strconv.FormatInt(manifest.SizeBytes, 10))
	c.Status(http.StatusFound)
}

type deltaItemPayload struct {
	ID          string            `json:"id"`
	Category    string            `json:"category"`
	PointValue  int64             `json:"point_value"`
	Name        map[string]string `json:"name"`
	Description map[string]string `json:"description"`
	Effects     map[string]string `json:"effects"`
	SideEffects map[string]string `json:"side_effects"`
	GoodFor     map[string]string `json:"good_for"`
	Tags        []string          `json:"tags"`
	UpdatedAt   string            `json:"updated_at"`
}

type deltaResponsePayload struct {
	Items      []deltaItemPayload `json:"items"`
	NextCursor *string            `json:"next_cursor"`
}

func (h *httpHandler) handleDelta(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := parsePositiveInt(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	page, err := h.catalogReader.Delta(c.Request.Context(), c.Query("since"), limit)
	if err != nil {
		if errors.Is(err, catalog.ErrInvalidDeltaCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
			return
		}
		h.logger.Error("delta query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delta_failed"})
		return
	}

	response := deltaResponsePayload{Items: make([]deltaItemPayload, 0, len(page.Products))}
	for _, product := range page.Products {
		response.Items = append(response.Items, deltaItemPayload{
			ID:          product.ID,
			Category:    product.Category,
			PointValue:  product.PointValue,
			Name:        product.Name,
			Description: product.Description,
			Effects:     product.Effects,
			SideEffects: product.SideEffects,
			GoodFor:     product.GoodFor,
			Tags:        product.Tags,
			UpdatedAt:   product.UpdatedAt.UTC().Format(catalog.DeltaCursorLayout),
		})
	}
	if page.NextCursor != "" {
		response.NextCursor = &page.NextCursor
	}

	c.JSON(http.StatusOK, response)
}

type productRequestPayload struct {
	ID          string            `json:"id"`
	Category    string            `json:"category"`
	PointValue  int64             `json:"point_value"`
	Name        map[string]string `json:"name"`
	Description map[string]string `json:"description"`
	Effects     map[string]string `json:"effects"`
	SideEffects map[string]string `json:"side_effects"`
	GoodFor     map[string]string `json:"good_for"`
	Tags        []string          `json:"tags"`
}

type importRequestPayload struct {
	Products []productRequestPayload `json:"products"`
}

type rebuildPayload struct {
	ETag      string `json:"etag"`
	SizeBytes int64  `json:"size_bytes"`
}

func (payload productRequestPayload) toDraft() catalog.ProductDraft {
	return catalog.ProductDraft{
		ID:          payload.ID,
		Category:    payload.Category,
		PointValue:  payload.PointValue,
		Name:        payload.Name,
		Description: payload.Description,
		Effects:     payload.Effects,
		SideEffects: payload.SideEffects,
		GoodFor:     payload.GoodFor,
		Tags:        payload.Tags,
	}
}

func (h *httpHandler) handleCreateProduct(c *gin.Context) {
	var request productRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	product, rebuild, err := h.catalogService.CreateProduct(c.Request.Context(), request.toDraft())
	if err != nil {
		h.respondWriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"product": product,
		"bundle":  rebuildPayload{ETag: rebuild.ETag, SizeBytes: rebuild.SizeBytes},
	})
}

func (h *httpHandler) handleUpdateProduct(c *gin.Context) {
	var request productRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	product, rebuild, err := h.catalogService.UpdateProduct(c.Request.Context(), c.Param("id"), request.toDraft())
	if err != nil {
		h.respondWriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product": product,
		"bundle":  rebuildPayload{ETag: rebuild.ETag, SizeBytes: rebuild.SizeBytes},
	})
}

func (h *httpHandler) handleDeleteProduct(c *gin.Context) {
	rebuild, err := h.catalogService.DeleteProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondWriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bundle": rebuildPayload{ETag: rebuild.ETag, SizeBytes: rebuild.SizeBytes},
	})
}

func (h *httpHandler) handleImport(c *gin.Context) {
	var request importRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Products) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	drafts := make([]catalog.ProductDraft, 0, len(request.Products))
	for _, payload := range request.Products {
		drafts = append(drafts, payload.toDraft())
	}

	products, rebuild, err := h.catalogService.BulkImport(c.Request.Context(), drafts)
	if err != nil {
		h.respondWriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"imported": len(products),
		"bundle":   rebuildPayload{ETag: rebuild.ETag, SizeBytes: rebuild.SizeBytes},
	})
}

func (h *httpHandler) respondWriteError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "product_not_found"})
	case errors.Is(err, catalog.ErrMissingPrimaryName),
		errors.Is(err, catalog.ErrInvalidCategory),
		errors.Is(err, catalog.ErrInvalidPointValue),
		errors.Is(err, catalog.ErrInvalidProductID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_product"})
	default:
		h.logger.Error("catalog write failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "write_failed"})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(editorContextKey, subject)
	c.Next()
}

func parsePositiveInt(raw string) (int, error) {
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if value <= 0 {
		return 0, fmt.Errorf("not a positive integer: %q", raw)
	}
	return value, nil
}
