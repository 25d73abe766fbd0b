// Package httpapi exposes the cellar service over HTTP.
package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cognicore/cellar/internal/logger"
	"github.com/cognicore/cellar/pkg/cellar"
	"github.com/cognicore/cellar/pkg/cellar/ingest"
	"github.com/cognicore/cellar/pkg/cellar/store"
)

const maxUploadBytes = 5 << 20

// Handler serves the wine catalog routes.
type Handler struct {
	svc *cellar.Service
	log *logger.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc *cellar.Service, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{svc: svc, log: log.With("component", "httpapi")}
}

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(svc *cellar.Service, log *logger.Logger) *gin.Engine {
	h := NewHandler(svc, log)

	router := gin.New()
	router.MaxMultipartMemory = maxUploadBytes
	router.Use(RequestID(), AccessLog(h.log), Recovery(h.log))

	router.GET("/healthz", h.Health)

	api := router.Group("/api/v1")
	{
		wines := api.Group("/wines")
		wines.POST("/ingest", h.Ingest)
		wines.POST("/upload", h.Upload)
		wines.POST("/scrape", h.Scrape)
		wines.GET("", h.ListWines)
		wines.GET("/stats", h.Stats)
		wines.GET("/duplicates", h.Duplicates)
		wines.GET("/:id", h.GetWine)
		wines.POST("/:id/enrich", h.EnrichOne)
		wines.POST("/enrich", h.EnrichPending)

		api.POST("/restaurants/:rid/wines/:id", h.LinkWine)
		api.DELETE("/restaurants/:rid/wines/:id", h.DeactivateWine)

		api.GET("/uploads/:id", h.GetUpload)

		api.GET("/enrichment/daemon", h.DaemonStatus)
		api.POST("/enrichment/daemon/start", h.StartDaemon)
		api.POST("/enrichment/daemon/stop", h.StopDaemon)
	}
	return router
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Ingest(c *gin.Context) {
	var req cellar.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.URL = ""
	h.ingest(c, req)
}

type scrapeRequest struct {
	URL          string `json:"url" binding:"required"`
	UploaderID   string `json:"uploader_id" binding:"required"`
	RestaurantID string `json:"restaurant_id"`
	Isolated     bool   `json:"isolated"`
}

func (h *Handler) Scrape(c *gin.Context) {
	var req scrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.ingest(c, cellar.IngestRequest{
		URL:          req.URL,
		UploaderID:   req.UploaderID,
		RestaurantID: req.RestaurantID,
		Isolated:     req.Isolated,
		FileName:     req.URL,
	})
}

type uploadForm struct {
	UploaderID   string `form:"uploader_id" binding:"required"`
	RestaurantID string `form:"restaurant_id"`
	Isolated     bool   `form:"isolated"`
}

// Upload ingests a multipart file. HTML files are reduced to their text
// lines; anything else is read as plain text.
func (h *Handler) Upload(c *gin.Context) {
	var form uploadForm
	if err := c.ShouldBind(&form); err != nil {
		badRequest(c, err)
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, fmt.Errorf("file is required: %w", err))
		return
	}
	if fh.Size > maxUploadBytes {
		badRequest(c, fmt.Errorf("file exceeds %d bytes", maxUploadBytes))
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		badRequest(c, err)
		return
	}

	text := string(data)
	switch strings.ToLower(filepath.Ext(fh.Filename)) {
	case ".html", ".htm":
		lines, err := ingest.HTMLToLines(bytes.NewReader(data))
		if err != nil {
			badRequest(c, err)
			return
		}
		text = strings.Join(lines, "\n")
	}
	if strings.TrimSpace(text) == "" {
		badRequest(c, errors.New("file is empty"))
		return
	}

	h.ingest(c, cellar.IngestRequest{
		Text:         text,
		UploaderID:   form.UploaderID,
		RestaurantID: form.RestaurantID,
		Isolated:     form.Isolated,
		FileName:     fh.Filename,
		FileSize:     fh.Size,
	})
}

func (h *Handler) ingest(c *gin.Context, req cellar.IngestRequest) {
	res, err := h.svc.Ingest(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type listQuery struct {
	RestaurantID string `form:"restaurant_id"`
	Page         int    `form:"page" binding:"omitempty,min=1"`
	PageSize     int    `form:"page_size" binding:"omitempty,min=1,max=200"`
	Search       string `form:"search"`
	Status       string `form:"status" binding:"omitempty,oneof=pending processing completed failed"`
	Sort         string `form:"sort"`
}

func (h *Handler) ListWines(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	page, err := h.svc.ListWines(c.Request.Context(), store.ListOptions{
		RestaurantID: q.RestaurantID,
		Page:         q.Page,
		PageSize:     q.PageSize,
		Search:       q.Search,
		Status:       store.Status(q.Status),
		Sort:         q.Sort,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context(), c.Query("restaurant_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) Duplicates(c *gin.Context) {
	groups, err := h.svc.FindDuplicateGroups(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups, "count": len(groups)})
}

func (h *Handler) GetWine(c *gin.Context) {
	w, err := h.svc.Wine(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// EnrichOne waits for the enrichment to finish.
func (h *Handler) EnrichOne(c *gin.Context) {
	w, err := h.svc.EnrichOne(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

type enrichPendingRequest struct {
	Limit int `json:"limit" binding:"omitempty,min=1"`
}

// EnrichPending queues a batch and returns 202.
func (h *Handler) EnrichPending(c *gin.Context) {
	var req enrichPendingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if err := h.svc.EnrichPending(c.Request.Context(), req.Limit); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true, "queue": h.svc.QueueStatus()})
}

func (h *Handler) LinkWine(c *gin.Context) {
	var pricing *store.Pricing
	if c.Request.ContentLength != 0 {
		pricing = &store.Pricing{}
		if err := c.ShouldBindJSON(pricing); err != nil {
			badRequest(c, err)
			return
		}
	}
	a, err := h.svc.LinkWine(c.Request.Context(), c.Param("id"), c.Param("rid"), pricing)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) DeactivateWine(c *gin.Context) {
	if err := h.svc.DeactivateWine(c.Request.Context(), c.Param("id"), c.Param("rid")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetUpload(c *gin.Context) {
	u, err := h.svc.Upload(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) DaemonStatus(c *gin.Context) {
	status, err := h.svc.DaemonStatus(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"daemon": status, "queue": h.svc.QueueStatus()})
}

// StartDaemon returns 202; the loop runs in the background.
func (h *Handler) StartDaemon(c *gin.Context) {
	started := h.svc.StartDaemon(c.Request.Context())
	running := started
	if !started {
		if st, err := h.svc.DaemonStatus(c.Request.Context()); err == nil {
			running = st.Running
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"started": started, "running": running})
}

func (h *Handler) StopDaemon(c *gin.Context) {
	if err := h.svc.StopDaemon(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": false})
}
