package clinic

import (
	"bytes"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/entnt/dental-connect/internal/domain/access"
	"github.com/entnt/dental-connect/internal/domain/session"
	"github.com/entnt/dental-connect/internal/platform/auth"
	"github.com/entnt/dental-connect/internal/platform/blobstore"
	"github.com/entnt/dental-connect/pkg/pagination"
)

type Handler struct {
	svc   *Service
	files blobstore.BlobStore
}

// NewHandler serves the clinic routes. Attachments go to files.
func NewHandler(svc *Service, files blobstore.BlobStore) *Handler {
	return &Handler{svc: svc, files: files}
}

// RegisterRoutes mounts the public, patient and admin routes on api.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/bookings", h.Book)

	member := api.Group("", auth.RequireRole(access.AnyRole))
	member.GET("/dashboard", h.Dashboard)
	member.GET("/history", h.History)
	member.GET("/files/:id", h.DownloadFile)

	admin := api.Group("", auth.RequireRole(access.AdminOnly))
	admin.GET("/patients", h.ListPatients)
	admin.POST("/patients", h.CreatePatient)
	admin.GET("/patients/:id", h.GetPatient)
	admin.PUT("/patients/:id", h.UpdatePatient)
	admin.DELETE("/patients/:id", h.DeletePatient)

	admin.GET("/incidents", h.ListIncidents)
	admin.POST("/incidents", h.CreateIncident)
	admin.GET("/incidents/:id", h.GetIncident)
	admin.PUT("/incidents/:id", h.UpdateIncident)
	admin.DELETE("/incidents/:id", h.DeleteIncident)
	admin.POST("/incidents/:id/toggle", h.ToggleStatus)
	admin.POST("/incidents/:id/files", h.UploadFile)

	admin.GET("/calendar", h.Calendar)
	admin.GET("/calendar/day", h.CalendarDay)
	admin.GET("/calendar/export", h.ExportCalendar)
}

// httpError maps service errors onto status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// confirmed guards destructive requests; nothing is removed without
// ?confirm=true.
func confirmed(c echo.Context) error {
	if c.QueryParam("confirm") != "true" {
		return echo.NewHTTPError(http.StatusBadRequest, "deletion requires confirm=true")
	}
	return nil
}

// -- Patients --

// ListPatients pages through patients matching the q query parameter.
func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients := h.svc.SearchPatients(c.QueryParam("q"))
	return c.JSON(http.StatusOK, pagination.Page(patients, pg, c.Request().URL.Path))
}

// CreatePatient adds a patient under a fresh id.
func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.svc.CreatePatient(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.GetPatient(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.UpdatePatient(c.Request().Context(), c.Param("id"), p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// DeletePatient requires confirm=true. Incidents of the patient are kept.
func (h *Handler) DeletePatient(c echo.Context) error {
	if err := confirmed(c); err != nil {
		return err
	}
	if err := h.svc.DeletePatient(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Incidents --

// ListIncidents pages through incidents matching the q query parameter.
func (h *Handler) ListIncidents(c echo.Context) error {
	pg := pagination.FromContext(c)
	incidents := h.svc.SearchIncidents(c.QueryParam("q"))
	return c.JSON(http.StatusOK, pagination.Page(incidents, pg, c.Request().URL.Path))
}

// CreateIncident adds an incident under a fresh id.
func (h *Handler) CreateIncident(c echo.Context) error {
	var inc Incident
	if err := c.Bind(&inc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.svc.CreateIncident(c.Request().Context(), inc)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetIncident(c echo.Context) error {
	v, err := h.svc.GetIncident(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) UpdateIncident(c echo.Context) error {
	var inc Incident
	if err := c.Bind(&inc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.UpdateIncident(c.Request().Context(), c.Param("id"), inc)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// DeleteIncident requires confirm=true.
func (h *Handler) DeleteIncident(c echo.Context) error {
	if err := confirmed(c); err != nil {
		return err
	}
	if err := h.svc.DeleteIncident(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ToggleStatus flips an incident between pending and completed.
func (h *Handler) ToggleStatus(c echo.Context) error {
	v, err := h.svc.ToggleStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

// Book is the public booking form. A logged-in patient books for themselves.
func (h *Handler) Book(c echo.Context) error {
	var b Booking
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.Book(c.Request().Context(), auth.IdentityFromContext(c), b)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

// -- Attachments --

// UploadFile stores a multipart file and attaches it to the incident.
func (h *Handler) UploadFile(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.svc.GetIncident(id); err != nil {
		return httpError(err)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file")
	}
	defer src.Close()

	var createdBy string
	if who := auth.IdentityFromContext(c); who != nil {
		createdBy = who.Email()
	}
	ctx := c.Request().Context()
	meta, err := h.files.Upload(ctx, blobstore.BlobMetadata{
		FileName:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		IncidentID:  id,
		CreatedBy:   createdBy,
	}, src)
	if err != nil {
		switch {
		case errors.Is(err, blobstore.ErrFileTooLarge):
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, blobstore.ErrMissingFileName):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	v, err := h.svc.AttachFile(ctx, id, FileRef{
		Name: meta.FileName,
		Type: meta.ContentType,
		URL:  "/api/v1/files/" + meta.ID,
	})
	if err != nil {
		// Drop the orphaned object.
		_ = h.files.Delete(ctx, meta.ID)
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

// DownloadFile streams an attachment. Patients may only fetch files of their
// own incidents.
func (h *Handler) DownloadFile(c echo.Context) error {
	rc, meta, err := h.files.Download(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, blobstore.ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer rc.Close()

	if p, ok := auth.IdentityFromContext(c).(session.Patient); ok {
		inc, err := h.svc.GetIncident(meta.IncidentID)
		if err != nil || inc.PatientID != p.PatientID {
			return echo.NewHTTPError(http.StatusNotFound, blobstore.ErrBlobNotFound.Error())
		}
	}

	c.Response().Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": meta.FileName}))
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

// -- Views --

// Dashboard returns the admin or patient dashboard depending on the caller.
func (h *Handler) Dashboard(c echo.Context) error {
	q := c.QueryParam("q")
	switch id := auth.IdentityFromContext(c).(type) {
	case session.Admin:
		return c.JSON(http.StatusOK, h.svc.AdminDashboard(q))
	case session.Patient:
		return c.JSON(http.StatusOK, h.svc.PatientDashboard(id.PatientID, q))
	default:
		return echo.NewHTTPError(http.StatusUnauthorized, "login required")
	}
}

// History lists treatments. Patients only ever see their own.
func (h *Handler) History(c echo.Context) error {
	switch id := auth.IdentityFromContext(c).(type) {
	case session.Admin:
		return c.JSON(http.StatusOK, h.svc.History(""))
	case session.Patient:
		return c.JSON(http.StatusOK, h.svc.History(id.PatientID))
	default:
		return echo.NewHTTPError(http.StatusUnauthorized, "login required")
	}
}

// Calendar returns the appointment counts of the calendar summary.
func (h *Handler) Calendar(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Calendar(c.QueryParam("q")))
}

// CalendarDay lists the appointments of the date query parameter, today by
// default.
func (h *Handler) CalendarDay(c echo.Context) error {
	day := h.svc.now()
	if raw := c.QueryParam("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		day = parsed
	}
	return c.JSON(http.StatusOK, h.svc.CalendarDay(day, c.QueryParam("q")))
}

// ExportCalendar returns the appointments matching q as a CSV download.
func (h *Handler) ExportCalendar(c echo.Context) error {
	var buf bytes.Buffer
	if err := WriteCalendarCSV(&buf, h.svc.CalendarEvents(c.QueryParam("q"))); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set("Content-Disposition", `attachment; filename="appointments.csv"`)
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
