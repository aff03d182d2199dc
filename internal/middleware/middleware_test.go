package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/renewal-portal/internal/model"
	"github.com/iliyamo/renewal-portal/internal/repository"
	"github.com/iliyamo/renewal-portal/internal/service"
	"github.com/iliyamo/renewal-portal/internal/utils"
)

const testSecret = "test-secret"

type fakePerms map[uint64][]string

func (f fakePerms) PermissionKeysForRoles(_ context.Context, roleIDs []uint64) ([]string, error) {
	var out []string
	for _, id := range roleIDs {
		out = append(out, f[id]...)
	}
	return out, nil
}

type fakeMembers struct{}

func (fakeMembers) ListMemberships(context.Context, uint64) ([]model.Membership, error) {
	return nil, nil
}
func (fakeMembers) ListProjectMembers(context.Context, uint64) ([]model.Membership, error) {
	return nil, nil
}
func (fakeMembers) AddMember(context.Context, uint64, uint64, uint64) (model.Membership, error) {
	return model.Membership{}, nil
}
func (fakeMembers) RemoveMember(context.Context, uint64, uint64) (bool, error) { return false, nil }

type fakeProjects struct{}

func (fakeProjects) GetProject(_ context.Context, id uint64) (model.Project, error) {
	return model.Project{ID: id}, nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []model.AuditEvent
	block  bool
	rec    *service.AuditRecorder
}

func (f *fakeAudit) Insert(ctx context.Context, ev *model.AuditEvent) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *ev)
	return nil
}

func (f *fakeAudit) List(context.Context, *uint64, int) ([]model.AuditEvent, error) {
	return nil, nil
}

// all waits for queued inserts, then returns what was stored.
func (f *fakeAudit) all() []model.AuditEvent {
	f.rec.Wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AuditEvent(nil), f.events...)
}

type fakePrincipals struct {
	calls atomic.Int32
	delay time.Duration
	users map[uint64]model.Principal
}

func (f *fakePrincipals) LoadPrincipal(_ context.Context, id uint64) (model.Principal, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	p, ok := f.users[id]
	if !ok {
		return model.Principal{}, repository.ErrNotFound
	}
	return p, nil
}

// committee holds role 2 in project 10, resident holds role 3 in project 10.
var (
	committee = &model.Principal{ID: 3, Memberships: []model.Membership{{ID: 1, UserID: 3, ProjectID: 10, RoleID: 2, RoleName: model.RoleCommittee}}}
	resident  = &model.Principal{ID: 7, Memberships: []model.Membership{{ID: 2, UserID: 7, ProjectID: 10, RoleID: 3, RoleName: model.RoleResident}}}
)

func newTestGuard(single bool) (*Guard, *fakeAudit) {
	return newTestGuardWithAudit(single, &fakeAudit{}, time.Second)
}

func newTestGuardWithAudit(single bool, audit *fakeAudit, auditTimeout time.Duration) (*Guard, *fakeAudit) {
	perms := fakePerms{
		2: {model.PermVotesManage, model.PermVotesVote, model.PermMessagesSend},
		3: {model.PermVotesVote, model.PermDocumentsSignOwn},
	}
	logger := zap.NewNop()
	audit.rec = service.NewAuditRecorder(audit, service.SystemClock{}, auditTimeout, logger)
	g := NewGuard(
		service.NewAuthorizer(perms),
		service.NewScopeResolver(service.ScopeConfig{SingleProjectMode: single}, fakeMembers{}, fakeProjects{}, logger),
		audit.rec,
		logger,
	)
	return g, audit
}

// serve runs one request through the guard with p already loaded and maps
// errors the way the application does.
func serve(g *Guard, action string, p *model.Principal, req *http.Request, h echo.HandlerFunc, params ...string) *httptest.ResponseRecorder {
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, service.ErrUnauthenticated):
			status = http.StatusUnauthorized
		case errors.Is(err, service.ErrForbidden):
			status = http.StatusForbidden
		case errors.Is(err, service.ErrBadRequest):
			status = http.StatusBadRequest
		case errors.Is(err, service.ErrConflict):
			status = http.StatusConflict
		}
		_ = c.JSON(status, echo.Map{"error": err.Error()})
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) == 2 {
		c.SetParamNames(params[0])
		c.SetParamValues(params[1])
	}
	if p != nil {
		c.Set(ctxPrincipal, p)
	}
	if err := g.Require(action)(h)(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestGuard_AllowsAndRecordsOnce(t *testing.T) {
	g, audit := newTestGuard(true)
	var seenProject uint64
	h := func(c echo.Context) error {
		seenProject = ProjectIDFrom(c)
		AddAuditMeta(c, "option_id", 41)
		AddAuditMeta(c, "token", "abc")
		return c.JSON(http.StatusCreated, echo.Map{"ok": true})
	}

	rec := serve(g, ActionVoteCast, resident, httptest.NewRequest(http.MethodPost, "/v1/votes/12/ballots", nil), h, "id", "12")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, uint64(10), seenProject)

	events := audit.all()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "votes.cast", ev.Action)
	assert.Equal(t, uint64(7), ev.ActorID)
	require.NotNil(t, ev.ProjectID)
	assert.Equal(t, uint64(10), *ev.ProjectID)
	require.NotNil(t, ev.TargetID)
	assert.Equal(t, uint64(12), *ev.TargetID)
	assert.JSONEq(t, `{"option_id":41,"token":"[REDACTED]","outcome":"ok"}`, string(ev.Metadata))
}

func TestGuard_ForbiddenStopsBeforeHandler(t *testing.T) {
	g, audit := newTestGuard(true)
	called := false
	h := func(c echo.Context) error { called = true; return nil }

	rec := serve(g, ActionVoteCreate, resident, httptest.NewRequest(http.MethodPost, "/v1/votes", nil), h)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), model.PermVotesManage)
	assert.False(t, called)
	assert.Empty(t, audit.all())
}

func TestGuard_Unauthenticated(t *testing.T) {
	g, audit := newTestGuard(true)
	rec := serve(g, ActionVoteCreate, nil, httptest.NewRequest(http.MethodPost, "/v1/votes", nil),
		func(c echo.Context) error { return nil })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, audit.all())
}

func TestGuard_HandlerErrorStillRecorded(t *testing.T) {
	g, audit := newTestGuard(true)
	h := func(c echo.Context) error {
		return &service.Error{Kind: service.ErrConflict, Message: "vote is CLOSED"}
	}
	rec := serve(g, ActionVoteOpen, committee, httptest.NewRequest(http.MethodPost, "/v1/votes/12/open", nil), h, "id", "12")
	assert.Equal(t, http.StatusConflict, rec.Code)

	events := audit.all()
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0].Metadata), `"outcome":"error"`)
}

func TestGuard_SlowAuditStoreDoesNotDelayResponse(t *testing.T) {
	g, audit := newTestGuardWithAudit(true, &fakeAudit{block: true}, time.Second)

	start := time.Now()
	rec := serve(g, ActionVoteOpen, committee, httptest.NewRequest(http.MethodPost, "/v1/votes/12/open", nil),
		func(c echo.Context) error { return c.NoContent(http.StatusOK) }, "id", "12")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	// the insert is still pending until its own deadline
	assert.Empty(t, audit.all())
}

func TestGuard_ReadActionNotAudited(t *testing.T) {
	g, audit := newTestGuard(true)
	rec := serve(g, ActionAssignmentDownload, resident, httptest.NewRequest(http.MethodGet, "/v1/assignments/1/download", nil),
		func(c echo.Context) error { return c.NoContent(http.StatusOK) }, "id", "1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, audit.all())
}

func TestGuard_HandlerSetsTarget(t *testing.T) {
	g, audit := newTestGuard(true)
	h := func(c echo.Context) error {
		SetAuditTarget(c, 99)
		return c.NoContent(http.StatusCreated)
	}
	serve(g, ActionMessageCreate, committee, httptest.NewRequest(http.MethodPost, "/v1/messages", nil), h)
	events := audit.all()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].TargetID)
	assert.Equal(t, uint64(99), *events[0].TargetID)
}

func TestGuard_MultiProjectHeader(t *testing.T) {
	g, _ := newTestGuard(false)
	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

	req := httptest.NewRequest(http.MethodGet, "/v1/votes/1/participation", nil)
	assert.Equal(t, http.StatusForbidden, serve(g, ActionVoteCast, resident, req, ok).Code, "header missing")

	req = httptest.NewRequest(http.MethodPost, "/v1/votes/1/ballots", nil)
	req.Header.Set(ProjectHeader, "20")
	assert.Equal(t, http.StatusForbidden, serve(g, ActionVoteCast, resident, req, ok).Code, "not a member")

	req = httptest.NewRequest(http.MethodPost, "/v1/votes/1/ballots", nil)
	req.Header.Set(ProjectHeader, "ten")
	assert.Equal(t, http.StatusBadRequest, serve(g, ActionVoteCast, resident, req, ok).Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/votes/1/ballots", nil)
	req.Header.Set(ProjectHeader, "10")
	assert.Equal(t, http.StatusNoContent, serve(g, ActionVoteCast, resident, req, ok).Code)
}

func TestGuard_UnknownActionPanics(t *testing.T) {
	g, _ := newTestGuard(true)
	assert.Panics(t, func() { g.Require("nope") })
}

func TestActionsTableIsComplete(t *testing.T) {
	for name, act := range Actions {
		assert.NotEmpty(t, act.Permissions, name)
		if act.AuditAction != "" {
			assert.NotEmpty(t, act.TargetType, name)
		}
	}
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	var got uint64
	h := JWTAuth(testSecret)(func(c echo.Context) error {
		got = UserIDFrom(c)
		return c.NoContent(http.StatusNoContent)
	})

	tok, err := utils.NewAccessToken(testSecret, 7, 5)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + tok.Token, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			require.NoError(t, h(e.NewContext(req, rec)))
			assert.Equal(t, tc.status, rec.Code)
		})
	}
	assert.Equal(t, uint64(7), got)
}

func TestPrincipalLoader(t *testing.T) {
	store := &fakePrincipals{users: map[uint64]model.Principal{7: *resident}}
	mw := NewPrincipalLoader(store, zap.NewNop()).Middleware()
	e := echo.New()

	var loaded *model.Principal
	h := mw(func(c echo.Context) error {
		loaded = PrincipalFrom(c)
		return c.NoContent(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.Set(ctxUserID, uint64(7))
	require.NoError(t, h(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, loaded)
	assert.Equal(t, uint64(10), loaded.Memberships[0].ProjectID)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.Set(ctxUserID, uint64(404))
	require.NoError(t, h(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPrincipalLoader_CollapsesConcurrentLoads(t *testing.T) {
	store := &fakePrincipals{delay: 50 * time.Millisecond, users: map[uint64]model.Principal{7: *resident}}
	loader := NewPrincipalLoader(store, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := loader.load(context.Background(), 7)
			assert.NoError(t, err)
			assert.Equal(t, uint64(7), p.ID)
		}()
	}
	wg.Wait()
	assert.Less(t, store.calls.Load(), int32(10))
}
