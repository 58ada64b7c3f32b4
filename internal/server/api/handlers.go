package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"wharf/internal/server/database"
	"wharf/internal/server/service"
)

// Handler contains the HTTP handlers for the wharf API.
type Handler struct {
	svc *service.Service
	db  *database.DB
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(svc *service.Service, db *database.DB) *Handler {
	return &Handler{svc: svc, db: db}
}

// HandlePresign handles POST /api/s3/presign.
// Validates upload intent and returns a presigned PUT URL plus the
// placeholder file id to commit against.
func (h *Handler) HandlePresign(c echo.Context) error {
	var req service.PresignRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	result, err := h.svc.Presign(c.Request().Context(), identityFrom(c), req)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// HandleCommit handles POST /api/s3/commit.
// Finalizes a presigned upload with the confirmed size and metadata.
func (h *Handler) HandleCommit(c echo.Context) error {
	var req service.CommitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	result, err := h.svc.Commit(c.Request().Context(), identityFrom(c), req)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// HandleDirectUpload handles PUT /api/upload-direct/:filename.
// The request body is the file content; options ride in query params.
func (h *Handler) HandleDirectUpload(c echo.Context) error {
	filename := c.Param("filename")
	if decoded, err := url.PathUnescape(filename); err == nil {
		filename = decoded
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "failed to read request body"})
	}

	expiresIn, err := intParam(c, "expires_in")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	maxViews, err := intParam(c, "max_views")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	req := service.DirectUploadRequest{
		Filename:     filename,
		Body:         body,
		DeclaredType: c.Request().Header.Get(echo.HeaderContentType),
		ConfigID:     c.QueryParam("s3_config_id"),
		Slug:         c.QueryParam("slug"),
		Path:         c.QueryParam("path"),
		Remark:       c.QueryParam("remark"),
		Password:     c.QueryParam("password"),
		ExpiresIn:    expiresIn,
		MaxViews:     maxViews,
		Override:     boolParam(c, "override"),
		OriginalName: boolParam(c, "original_filename"),
		UseProxy:     boolParam(c, "use_proxy"),
	}

	result, err := h.svc.UploadDirect(c.Request().Context(), identityFrom(c), req)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

// HandleFileView handles GET /api/file-view/:slug.
// Serves the file inline. Accepts an optional "password" query param.
func (h *Handler) HandleFileView(c echo.Context) error {
	return h.serveFile(c, false)
}

// HandleFileDownload handles GET /api/file-download/:slug.
// Serves the file as an attachment.
func (h *Handler) HandleFileDownload(c echo.Context) error {
	return h.serveFile(c, true)
}

func (h *Handler) serveFile(c echo.Context, attachment bool) error {
	slug := c.Param("slug")
	password := c.QueryParam("password")

	stream, err := h.svc.OpenFile(c.Request().Context(), slug, password, attachment)
	if err != nil {
		return mapServiceError(c, err)
	}
	if stream.Redirect != "" {
		return c.Redirect(http.StatusFound, stream.Redirect)
	}
	defer stream.Body.Close()

	disposition := "inline"
	if attachment {
		disposition = "attachment"
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("%s; filename=%q", disposition, stream.Filename))
	if stream.Size > 0 {
		c.Response().Header().Set(echo.HeaderContentLength,
			strconv.FormatInt(stream.Size, 10))
	}
	return c.Stream(http.StatusOK, stream.MimeType, stream.Body)
}

// HandleListFiles handles GET /api/files.
// Returns records visible to the caller, newest first.
func (h *Handler) HandleListFiles(c echo.Context) error {
	limit, err := intParam(c, "limit")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	offset, err := intParam(c, "offset")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	files, err := h.svc.ListFiles(c.Request().Context(), identityFrom(c), limit, offset)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"files": files,
		"count": len(files),
	})
}

// HandleGetFile handles GET /api/files/:id.
// Returns the owner-facing detail, including the plaintext password.
func (h *Handler) HandleGetFile(c echo.Context) error {
	detail, err := h.svc.GetFile(c.Request().Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

// HandleDeleteFile handles DELETE /api/files/:id.
func (h *Handler) HandleDeleteFile(c echo.Context) error {
	if err := h.svc.DeleteFile(c.Request().Context(), identityFrom(c), c.Param("id")); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": "file deleted successfully",
	})
}

// HandleBrowse handles GET /api/fs/list.
// Lists one level of the virtual directory tree behind the mounts.
func (h *Handler) HandleBrowse(c echo.Context) error {
	listing, err := h.svc.Browse(c.Request().Context(), identityFrom(c), c.QueryParam("path"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, listing)
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
// Returns aggregate gateway statistics.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_files":        stats.TotalFiles,
		"active_files":       stats.ActiveFiles,
		"total_views":        stats.TotalViews,
		"bytes_stored":       stats.BytesStored,
		"bytes_stored_human": humanize.IBytes(uint64(stats.BytesStored)),
	})
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	var (
		valErr  *service.ValidationError
		conErr  *service.ConflictError
		permErr *service.PermissionError
		nfErr   *service.NotFoundError
		capErr  *service.CapacityError
		exhErr  *service.ExhaustionError
		xferErr *service.TransferError
	)
	switch {
	case errors.As(err, &valErr):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": valErr.Error()})
	case errors.As(err, &conErr):
		return c.JSON(http.StatusConflict, echo.Map{"error": conErr.Error()})
	case errors.As(err, &permErr):
		return c.JSON(http.StatusForbidden, echo.Map{"error": permErr.Error()})
	case errors.As(err, &nfErr):
		return c.JSON(http.StatusNotFound, echo.Map{"error": nfErr.Error()})
	case errors.As(err, &capErr):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":     capErr.Error(),
			"requested": capErr.Requested,
			"remaining": capErr.Remaining,
			"total":     capErr.Total,
		})
	case errors.As(err, &exhErr):
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error":     exhErr.Error(),
			"retryable": true,
		})
	case errors.As(err, &xferErr):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": xferErr.Error()})
	case errors.Is(err, service.ErrExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "file has expired"})
	case errors.Is(err, service.ErrViewsExhausted):
		return c.JSON(http.StatusGone, echo.Map{"error": "view limit reached"})
	case errors.Is(err, service.ErrPasswordRequired):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "password_required"})
	case errors.Is(err, service.ErrInvalidPassword):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid password"})
	case errors.Is(err, service.ErrTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	default:
		slog.Error("request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

// intParam parses an optional integer query parameter; absent means zero.
func intParam(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

// boolParam treats "1" and "true" as set.
func boolParam(c echo.Context, name string) bool {
	v := c.QueryParam(name)
	return v == "1" || v == "true"
}
