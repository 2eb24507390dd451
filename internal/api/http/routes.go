package httpapi

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/servicoscor/dashboard-radares/internal/imaging"
	"github.com/servicoscor/dashboard-radares/internal/radar"
	"github.com/servicoscor/dashboard-radares/internal/ratelimit"
	"github.com/servicoscor/dashboard-radares/internal/store"
)

var validate = validator.New()

// Deps are the collaborators the routes are served from.
type Deps struct {
	Service  *radar.Service
	Store    *store.DiskStore
	Exporter *imaging.Exporter
	Limiter  Admitter

	AdminToken    string
	FTPConfigured bool
	SyncTimeout   time.Duration
	CacheMaxAge   time.Duration
	ExportMaxAge  time.Duration
}

type handlers struct {
	Deps
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	if d.SyncTimeout <= 0 {
		d.SyncTimeout = 3 * time.Minute
	}
	h := &handlers{Deps: d}

	read := RateLimit(d.Limiter, ratelimit.CategoryRead)
	admin := RequireAdmin(d.AdminToken)

	api := app.Group("/api")
	api.Get("/frames/:source", read, h.listFrames)
	api.Get("/frame/:source/:filename", read, h.getFrame)
	api.Get("/export/gif/:source", RateLimit(d.Limiter, ratelimit.CategoryExport), h.exportGIF)
	api.Get("/status", read, h.status)
	api.Get("/sync/:source", RateLimit(d.Limiter, ratelimit.CategorySync), admin, h.sync)
	api.Get("/admin/status", read, admin, h.adminStatus)
}

// ErrorHandler renders every error as {"error": true, "message": ...}.
// Anything that is not a *fiber.Error becomes a bare 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	} else {
		log.Printf("ERROR: %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}

// sourceParam holds the :source path parameter.
type sourceParam struct {
	Source string `validate:"required,oneof=mendanha sumare"`
}

func parseSource(c *fiber.Ctx) (radar.Source, error) {
	p := sourceParam{Source: c.Params("source")}
	if err := validate.Struct(p); err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, "invalid radar source")
	}
	// Return the package constant; fiber reuses the buffer behind Params.
	for _, src := range radar.Sources() {
		if string(src) == p.Source {
			return src, nil
		}
	}
	return "", fiber.NewError(fiber.StatusBadRequest, "invalid radar source")
}

func (h *handlers) listFrames(c *fiber.Ctx) error {
	src, err := parseSource(c)
	if err != nil {
		return err
	}
	listing, err := h.Service.Frames(src)
	if err != nil {
		log.Printf("ERROR: list %s frames: %v", src, err)
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list frames")
	}
	return c.JSON(listing)
}

func (h *handlers) getFrame(c *fiber.Ctx) error {
	src, err := parseSource(c)
	if err != nil {
		return err
	}

	data, err := h.Store.ReadFrame(src, c.Params("filename"))
	switch {
	case errors.Is(err, radar.ErrInvalidFilename):
		return fiber.NewError(fiber.StatusBadRequest, "invalid filename")
	case errors.Is(err, radar.ErrPathEscape):
		return fiber.NewError(fiber.StatusForbidden, "access denied")
	case errors.Is(err, store.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "file not found")
	case err != nil:
		log.Printf("ERROR: read %s frame: %v", src, err)
		return fiber.NewError(fiber.StatusInternalServerError, "failed to read frame")
	}

	if c.Query("filter") == "rain" {
		if data, err = imaging.FilterRain(data); err != nil {
			log.Printf("ERROR: filter %s frame: %v", src, err)
			return fiber.NewError(fiber.StatusInternalServerError, "failed to process image")
		}
	}

	// Full-refresh names are reused every cycle.
	if src == radar.SourceSumare {
		c.Set(fiber.HeaderCacheControl, "no-cache, no-store, must-revalidate")
	}
	c.Type("png")
	return c.Send(data)
}

func (h *handlers) exportGIF(c *fiber.Ctx) error {
	src, err := parseSource(c)
	if err != nil {
		return err
	}

	export, err := h.Exporter.ExportGIF(src)
	switch {
	case errors.Is(err, imaging.ErrNoFrames):
		return fiber.NewError(fiber.StatusNotFound, "no frames available")
	case err != nil:
		log.Printf("ERROR: export %s: %v", src, err)
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate animation")
	}

	c.Attachment(export.Name)
	c.Type("gif")
	return c.Send(export.Data)
}

type sourceStatus struct {
	LastSync   *time.Time `json:"last_sync"`
	FilesCount int        `json:"files_count"`
	SizeBytes  *int64     `json:"size_bytes,omitempty"`
	SizeMB     *float64   `json:"size_mb,omitempty"`
}

func (h *handlers) sourceStatus(src radar.Source, detailed bool) sourceStatus {
	var st sourceStatus
	if ts, ok := h.Service.LastSync(src); ok {
		st.LastSync = &ts
	}
	stats, err := h.Store.SourceStats(src)
	if err != nil {
		log.Printf("ERROR: stat %s cache: %v", src, err)
	}
	st.FilesCount = stats.Count
	if detailed {
		mb := toMB(stats.Bytes)
		st.SizeBytes = &stats.Bytes
		st.SizeMB = &mb
	}
	return st
}

func (h *handlers) status(c *fiber.Ctx) error {
	resp := fiber.Map{
		"max_hours": h.CacheMaxAge.Hours(),
		"status":    "ok",
	}
	for _, src := range radar.Sources() {
		resp[src.String()] = h.sourceStatus(src, false)
	}
	return c.JSON(resp)
}

func (h *handlers) adminStatus(c *fiber.Ctx) error {
	sources := fiber.Map{}
	var total int64
	for _, src := range radar.Sources() {
		st := h.sourceStatus(src, true)
		total += *st.SizeBytes
		sources[src.String()] = st
	}

	exports, err := h.Store.ExportStats()
	if err != nil {
		log.Printf("ERROR: stat export cache: %v", err)
	}

	return c.JSON(fiber.Map{
		"sources":          sources,
		"exports":          exports,
		"total_size_bytes": total + exports.Bytes,
		"total_size_mb":    toMB(total + exports.Bytes),
		"ftp_configured":   h.FTPConfigured,
		"max_hours":        h.CacheMaxAge.Hours(),
		"export_max_hours": h.ExportMaxAge.Hours(),
		"status":           "ok",
	})
}

func (h *handlers) sync(c *fiber.Ctx) error {
	src, err := parseSource(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.SyncTimeout)
	defer cancel()

	synced := true
	if _, err := h.Service.Sync(ctx, src); err != nil {
		// Fetch failures stay server-side; the caller sees the old timestamp.
		log.Printf("ERROR: manual sync %s: %v", src, err)
		synced = false
	}

	var lastSync *time.Time
	if ts, ok := h.Service.LastSync(src); ok {
		lastSync = &ts
	}
	return c.JSON(fiber.Map{
		"message":   "Sync completed",
		"source":    src,
		"synced":    synced,
		"last_sync": lastSync,
	})
}

func toMB(b int64) float64 {
	return math.Round(float64(b)/1024/1024*100) / 100
}
