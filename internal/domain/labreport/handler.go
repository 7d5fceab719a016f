package labreport

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labextract/labextract/internal/platform/auth"
	"github.com/labextract/labextract/internal/platform/fhir"
	"github.com/labextract/labextract/internal/platform/hl7v2"
	"github.com/labextract/labextract/internal/platform/labparse"
	"github.com/labextract/labextract/internal/platform/textsource"
	"github.com/labextract/labextract/pkg/pagination"
)

// MIMEHL7 is the content type of ER7-encoded HL7 v2 responses.
const MIMEHL7 = "x-application/hl7-v2+er7"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("physician", "nurse", "lab_tech"))
	readGroup.GET("/laboratories", h.ListLaboratories)
	readGroup.POST("/lab-reports/parse", h.ParseReport)
	readGroup.GET("/lab-reports", h.ListReports)
	readGroup.GET("/lab-reports/compare", h.CompareReports)
	readGroup.GET("/lab-reports/:id", h.GetReport)
	readGroup.GET("/lab-reports/:id/rows", h.GetImportRows)
	readGroup.GET("/lab-reports/:id/fhir", h.GetFHIRBundle)
	readGroup.GET("/lab-reports/:id/hl7", h.GetHL7Message)
	readGroup.GET("/lab-reports/:id/document", h.GetDocument)

	writeGroup := api.Group("", auth.RequireRole("physician", "lab_tech"))
	writeGroup.POST("/lab-reports", h.ImportReport)
	writeGroup.POST("/lab-reports/:id/forward", h.ForwardReport)

	adminGroup := api.Group("", auth.RequireRole("admin"))
	adminGroup.DELETE("/lab-reports/:id", h.DeleteReport)
}

type parseRequest struct {
	Text       string   `json:"text"`
	Lines      []string `json:"lines"`
	Laboratory string   `json:"laboratory"`
}

// bindInput reads a multipart upload ("file" plus optional "laboratory") or
// a JSON body. A "laboratory" query parameter overrides both.
func bindInput(c echo.Context) (ParseInput, error) {
	var in ParseInput
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				return in, he
			}
			return in, echo.NewHTTPError(http.StatusBadRequest, "missing file field")
		}
		f, err := fh.Open()
		if err != nil {
			return in, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return in, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		in.Document = &textsource.Document{
			Name:        fh.Filename,
			ContentType: fh.Header.Get(echo.HeaderContentType),
			Data:        data,
		}
		in.Laboratory = c.FormValue("laboratory")
	} else {
		var req parseRequest
		if err := c.Bind(&req); err != nil {
			return in, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		in.Text, in.Lines, in.Laboratory = req.Text, req.Lines, req.Laboratory
	}
	if lab := c.QueryParam("laboratory"); lab != "" {
		in.Laboratory = lab
	}
	return in, nil
}

// httpError maps service errors to HTTP status codes.
func httpError(err error) error {
	var he *echo.HTTPError
	var rejected *hl7v2.RejectedError
	switch {
	case errors.As(err, &he):
		return he
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "lab report not found")
	case errors.Is(err, ErrNoDocument):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNoInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, textsource.ErrUnsupported):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, textsource.ErrUnreadable):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrForwardingDisabled):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &rejected), errors.Is(err, hl7v2.ErrNoAck):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// render writes result in the representation named by ?format=.
func (h *Handler) render(c echo.Context, id uuid.UUID, result labparse.ReportResult) error {
	switch format := c.QueryParam("format"); format {
	case "", "json":
		return c.JSON(http.StatusOK, result)
	case "rows":
		return c.JSON(http.StatusOK, labparse.ImportRows(result))
	case "fhir":
		bundle, err := fhir.ReportBundle(id, result)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, bundle)
	case "hl7":
		return c.Blob(http.StatusOK, MIMEHL7, h.svc.RenderHL7(id, result))
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown format %q", format))
	}
}

func (h *Handler) ListLaboratories(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Laboratories())
}

// ParseReport extracts an uploaded report without storing it.
func (h *Handler) ParseReport(c echo.Context) error {
	in, err := bindInput(c)
	if err != nil {
		return err
	}
	result, err := h.svc.Parse(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return h.render(c, uuid.New(), result)
}

func (h *Handler) ImportReport(c echo.Context) error {
	in, err := bindInput(c)
	if err != nil {
		return err
	}
	rep, err := h.svc.Import(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rep)
}

func (h *Handler) GetReport(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	rep, err := h.svc.GetReport(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) ListReports(c echo.Context) error {
	pg := pagination.FromContext(c)
	var (
		items []*Report
		total int
		err   error
	)
	if patientID := c.QueryParam("patient_id"); patientID != "" {
		items, total, err = h.svc.ListReportsByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	} else {
		items, total, err = h.svc.ListReports(c.Request().Context(), pg.Limit, pg.Offset)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) DeleteReport(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteReport(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetImportRows(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	rows, err := h.svc.ImportRows(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetFHIRBundle(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	bundle, err := h.svc.FHIRBundle(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, fhir.NotFoundOutcome("DiagnosticReport", id.String()))
		}
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, bundle)
}

func (h *Handler) GetHL7Message(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	msg, err := h.svc.HL7Message(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.Blob(http.StatusOK, MIMEHL7, msg)
}

// GetDocument streams the archived original upload.
func (h *Handler) GetDocument(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	rc, meta, err := h.svc.Document(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	defer rc.Close()

	contentType := meta.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	if meta.FileName != "" {
		c.Response().Header().Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": meta.FileName}))
	}
	if meta.Hash != "" {
		c.Response().Header().Set("ETag", `"`+meta.Hash+`"`)
	}
	return c.Stream(http.StatusOK, contentType, rc)
}

func (h *Handler) ForwardReport(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	res, err := h.svc.Forward(c.Request().Context(), id)
	if err != nil {
		var rejected *hl7v2.RejectedError
		if errors.As(err, &rejected) {
			return c.JSON(http.StatusBadGateway, res)
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) CompareReports(c echo.Context) error {
	prev, err := uuid.Parse(c.QueryParam("previous"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid previous")
	}
	cur, err := uuid.Parse(c.QueryParam("current"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid current")
	}
	out, err := h.svc.Compare(c.Request().Context(), prev, cur)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}
