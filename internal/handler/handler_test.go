package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/renewal-portal/internal/config"
	"github.com/iliyamo/renewal-portal/internal/model"
	"github.com/iliyamo/renewal-portal/internal/repository"
	"github.com/iliyamo/renewal-portal/internal/service"
	"github.com/iliyamo/renewal-portal/internal/utils"
)

func TestErrorResponse(t *testing.T) {
	forbidden := &service.Error{Kind: service.ErrForbidden, Message: "insufficient permissions", Missing: []string{"votes.manage"}}
	cases := []struct {
		name   string
		err    error
		prod   bool
		status int
		body   string
	}{
		{"unauthenticated", &service.Error{Kind: service.ErrUnauthenticated}, false, 401, `{"error":"unauthenticated"}`},
		{"forbidden dev", forbidden, false, 403, `{"error":"forbidden","message":"insufficient permissions","missing_permissions":["votes.manage"]}`},
		{"forbidden prod", forbidden, true, 403, `{"error":"forbidden"}`},
		{"not found", &service.Error{Kind: service.ErrNotFound, Message: "vote 3"}, true, 404, `{"error":"not_found","message":"vote 3"}`},
		{"bad request offenders", &service.Error{Kind: service.ErrBadRequest, Message: "not residents", Offending: []uint64{3, 404}}, false, 400,
			`{"error":"bad_request","message":"not residents","offending_user_ids":[3,404]}`},
		{"conflict", &service.Error{Kind: service.ErrConflict, Message: "full"}, false, 409, `{"error":"conflict","message":"full"}`},
		{"echo error", echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), false, 405, `{"error":"Method Not Allowed","message":"nope"}`},
		{"unknown", errors.New("db down"), false, 500, `{"error":"internal error"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := errorResponse(tc.err, tc.prod)
			assert.Equal(t, tc.status, status)
			raw, err := json.Marshal(body)
			require.NoError(t, err)
			assert.JSONEq(t, tc.body, string(raw))
		})
	}
}

type fakeAuditStore struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (f *fakeAuditStore) Insert(_ context.Context, ev *model.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *ev)
	return nil
}

func (f *fakeAuditStore) List(context.Context, *uint64, int) ([]model.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AuditEvent(nil), f.events...), nil
}

type fakeUsers map[string]model.User

func (f fakeUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	u, ok := f[email]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(false, zap.NewNop())
	return e
}

func do(e *echo.Echo, req *http.Request, h echo.HandlerFunc, setup func(c echo.Context)) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if setup != nil {
		setup(c)
	}
	if err := h(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func jsonReq(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestLogin(t *testing.T) {
	hash, err := utils.HashPassword("pw", 4)
	require.NoError(t, err)
	users := fakeUsers{
		"ana@example.com": {ID: 7, Email: "ana@example.com", PasswordHash: hash},
		"off@example.com": {ID: 8, Email: "off@example.com", PasswordHash: hash, Disabled: true},
	}
	store := &fakeAuditStore{}
	audit := service.NewAuditRecorder(store, service.SystemClock{}, time.Second, zap.NewNop())
	h := NewAuthHandler(config.Config{JWTSecret: "s", AccessTTLMin: 5}, users, nil, audit)
	e := newEcho()

	rec := do(e, jsonReq(http.MethodPost, "/v1/auth/login", `{"email":" Ana@Example.com ","password":"pw"}`), h.Login, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp authResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	uid, err := utils.ParseAccessToken("s", resp.Access.Token)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), uid)

	audit.Wait()
	require.Len(t, store.events, 1)
	assert.Equal(t, "auth.login", store.events[0].Action)
	assert.NotContains(t, string(store.events[0].Metadata), "pw")

	rec = do(e, jsonReq(http.MethodPost, "/v1/auth/login", `{"email":"ana@example.com","password":"wrong"}`), h.Login, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(e, jsonReq(http.MethodPost, "/v1/auth/login", `{"email":"nobody@example.com","password":"pw"}`), h.Login, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(e, jsonReq(http.MethodPost, "/v1/auth/login", `{"email":"off@example.com","password":"pw"}`), h.Login, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	audit.Wait()
	assert.Len(t, store.events, 1)
}

type fakeDocs struct {
	signed  map[uint64]bool
	created service.CreateDocumentInput
}

func (f *fakeDocs) CreateDocument(_ context.Context, in service.CreateDocumentInput) (model.Document, error) {
	f.created = in
	return model.Document{ID: 5, ProjectID: in.ProjectID, Title: in.Title, ContentType: in.ContentType}, nil
}

func (f *fakeDocs) AssignDocument(context.Context, uint64, uint64, service.AssignTarget) (service.AssignResult, error) {
	return service.AssignResult{}, nil
}

func (f *fakeDocs) Sign(_ context.Context, id, caller uint64, meta map[string]any) (service.SignResult, error) {
	if caller != 7 {
		return service.SignResult{}, &service.Error{Kind: service.ErrForbidden, Message: "not your assignment"}
	}
	already := f.signed[id]
	f.signed[id] = true
	return service.SignResult{Assignment: model.DocumentAssignment{ID: id, Status: model.AssignmentSigned}, AlreadySigned: already}, nil
}

func (f *fakeDocs) Download(context.Context, uint64, uint64) (service.DownloadLink, error) {
	return service.DownloadLink{URL: "https://files.example.com/x"}, nil
}

func asPrincipal(id, project uint64) func(c echo.Context) {
	return func(c echo.Context) {
		c.Set("principal", &model.Principal{ID: id})
		c.Set("project_id", project)
	}
}

func TestSign_CreatedThenOK(t *testing.T) {
	docs := &fakeDocs{signed: map[uint64]bool{}}
	h := NewDocumentHandler(docs)
	e := newEcho()
	sign := func(id string, caller uint64) *httptest.ResponseRecorder {
		req := jsonReq(http.MethodPost, "/v1/assignments/"+id+"/sign", `{}`)
		return do(e, req, h.Sign, func(c echo.Context) {
			asPrincipal(caller, 10)(c)
			c.SetParamNames("id")
			c.SetParamValues(id)
		})
	}

	assert.Equal(t, http.StatusCreated, sign("9", 7).Code)
	rec := sign("9", 7)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"already_signed":true`)
	assert.Equal(t, http.StatusForbidden, sign("9", 8).Code)
	assert.Equal(t, http.StatusBadRequest, sign("x", 7).Code)
}

func TestCreateDocument_Multipart(t *testing.T) {
	docs := &fakeDocs{}
	h := NewDocumentHandler(docs)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("title", "Agreement"))
	part, err := w.CreateFormFile("file", "agreement.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 test"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := do(newEcho(), req, h.Create, asPrincipal(3, 10))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Agreement", docs.created.Title)
	assert.Equal(t, "agreement.pdf", docs.created.FileName)
	assert.Equal(t, "application/pdf", docs.created.ContentType)
	assert.Equal(t, uint64(10), docs.created.ProjectID)
	assert.Equal(t, uint64(3), docs.created.CreatedBy)
}

func TestCreateDocument_MissingFile(t *testing.T) {
	req := jsonReq(http.MethodPost, "/v1/documents", `{}`)
	rec := do(newEcho(), req, NewDocumentHandler(&fakeDocs{}).Create, asPrincipal(3, 10))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeVotes struct {
	voted map[uint64]bool
}

func (f *fakeVotes) CreateVote(_ context.Context, in service.CreateVoteInput) (model.Vote, error) {
	return model.Vote{ID: 12, Title: in.Title}, nil
}
func (f *fakeVotes) OpenVote(context.Context, uint64, uint64) (model.Vote, error) {
	return model.Vote{}, &service.Error{Kind: service.ErrConflict, Message: "vote is CLOSED"}
}
func (f *fakeVotes) CloseVote(context.Context, uint64, uint64) (model.Vote, error) {
	return model.Vote{Status: model.VoteClosed}, nil
}
func (f *fakeVotes) CastBallot(_ context.Context, _, voteID, optionID, caller uint64) (service.BallotResult, error) {
	already := f.voted[caller]
	f.voted[caller] = true
	return service.BallotResult{Ballot: model.VoteBallot{VoteID: voteID, UserID: caller, OptionID: optionID}, AlreadyVoted: already}, nil
}
func (f *fakeVotes) GetParticipation(context.Context, uint64, uint64) (service.Participation, error) {
	return service.Participation{}, nil
}

func TestCastBallot_CreatedThenOK(t *testing.T) {
	h := NewVoteHandler(&fakeVotes{voted: map[uint64]bool{}})
	e := newEcho()
	cast := func(body string) *httptest.ResponseRecorder {
		return do(e, jsonReq(http.MethodPost, "/v1/votes/12/ballots", body), h.Cast, func(c echo.Context) {
			asPrincipal(7, 10)(c)
			c.SetParamNames("id")
			c.SetParamValues("12")
		})
	}
	assert.Equal(t, http.StatusCreated, cast(`{"option_id":41}`).Code)
	rec := cast(`{"option_id":40}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"already_voted":true`)
	assert.Equal(t, http.StatusBadRequest, cast(`{}`).Code)
}

func TestOpenVote_Conflict(t *testing.T) {
	h := NewVoteHandler(&fakeVotes{})
	rec := do(newEcho(), httptest.NewRequest(http.MethodPost, "/v1/votes/12/open", nil), h.Open, func(c echo.Context) {
		asPrincipal(3, 10)(c)
		c.SetParamNames("id")
		c.SetParamValues("12")
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListAudit_ScopedToProject(t *testing.T) {
	store := &fakeAuditStore{}
	audit := service.NewAuditRecorder(store, service.SystemClock{}, time.Second, zap.NewNop())
	var got *uint64
	reader := auditReaderFunc(func(_ context.Context, projectID *uint64, limit int) ([]model.AuditEvent, error) {
		got = projectID
		return audit.List(context.Background(), projectID, limit)
	})
	h := NewAdminHandler(nil, reader)
	rec := do(newEcho(), httptest.NewRequest(http.MethodGet, "/v1/audit-events?limit=5", nil), h.ListAudit, asPrincipal(3, 10))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"events":[]}`, rec.Body.String())
	require.NotNil(t, got)
	assert.Equal(t, uint64(10), *got)
}

type auditReaderFunc func(ctx context.Context, projectID *uint64, limit int) ([]model.AuditEvent, error)

func (f auditReaderFunc) List(ctx context.Context, projectID *uint64, limit int) ([]model.AuditEvent, error) {
	return f(ctx, projectID, limit)
}
