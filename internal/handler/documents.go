package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/renewal-portal/internal/middleware"
	"github.com/iliyamo/renewal-portal/internal/model"
	"github.com/iliyamo/renewal-portal/internal/service"
)

// maxUploadBytes bounds one document file.
const maxUploadBytes = 20 << 20

type documentEngine interface {
	CreateDocument(ctx context.Context, in service.CreateDocumentInput) (model.Document, error)
	AssignDocument(ctx context.Context, projectID, documentID uint64, target service.AssignTarget) (service.AssignResult, error)
	Sign(ctx context.Context, assignmentID, callerID uint64, meta map[string]any) (service.SignResult, error)
	Download(ctx context.Context, assignmentID, callerID uint64) (service.DownloadLink, error)
}

type DocumentHandler struct {
	Docs documentEngine
}

func NewDocumentHandler(docs documentEngine) *DocumentHandler {
	return &DocumentHandler{Docs: docs}
}

// Create accepts a multipart upload with a "file" part and a "title" field.
func (h *DocumentHandler) Create(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return &service.Error{Kind: service.ErrBadRequest, Message: "file is required"}
	}
	if fh.Size > maxUploadBytes {
		return &service.Error{Kind: service.ErrBadRequest, Message: "file too large"}
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	body, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return err
	}
	if len(body) > maxUploadBytes {
		return &service.Error{Kind: service.ErrBadRequest, Message: "file too large"}
	}
	contentType := fh.Header.Get(echo.HeaderContentType)
	if contentType == "" || contentType == echo.MIMEOctetStream {
		contentType = http.DetectContentType(body)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	doc, err := h.Docs.CreateDocument(ctx, service.CreateDocumentInput{
		ProjectID:   middleware.ProjectIDFrom(c),
		Title:       c.FormValue("title"),
		FileName:    fh.Filename,
		ContentType: contentType,
		Body:        body,
		CreatedBy:   middleware.PrincipalFrom(c).ID,
	})
	if err != nil {
		return err
	}
	middleware.SetAuditTarget(c, doc.ID)
	middleware.AddAuditMeta(c, "size", len(body))
	return c.JSON(http.StatusCreated, doc)
}

// Assign creates pending assignments for an apartment's occupants or an
// explicit list of residents.
func (h *DocumentHandler) Assign(c echo.Context) error {
	docID, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var target service.AssignTarget
	if err := c.Bind(&target); err != nil {
		return invalidBody()
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	res, err := h.Docs.AssignDocument(ctx, middleware.ProjectIDFrom(c), docID, target)
	if err != nil {
		return err
	}
	middleware.AddAuditMeta(c, "created", len(res.Created))
	if target.ApartmentID != nil {
		middleware.AddAuditMeta(c, "apartment_id", *target.ApartmentID)
	}
	if res.Created == nil {
		res.Created = []model.DocumentAssignment{}
	}
	return c.JSON(http.StatusCreated, res)
}

type signReq struct {
	Metadata map[string]any `json:"metadata"`
}

// Sign is safe to retry: 201 when this call signed, 200 with
// already_signed when it was signed before.
func (h *DocumentHandler) Sign(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req signReq
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return invalidBody()
		}
	}
	meta := req.Metadata
	if meta == nil {
		meta = make(map[string]any, 2)
	}
	meta["ip"] = c.RealIP()
	meta["user_agent"] = c.Request().UserAgent()

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	res, err := h.Docs.Sign(ctx, id, middleware.PrincipalFrom(c).ID, meta)
	if err != nil {
		return err
	}
	middleware.AddAuditMeta(c, "already_signed", res.AlreadySigned)
	if res.AlreadySigned {
		return c.JSON(http.StatusOK, res)
	}
	return c.JSON(http.StatusCreated, res)
}

// Download returns a presigned link for the caller's own assignment.
func (h *DocumentHandler) Download(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	link, err := h.Docs.Download(ctx, id, middleware.PrincipalFrom(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, link)
}
