package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/renewal-portal/internal/model"
	"github.com/iliyamo/renewal-portal/internal/repository"
	"github.com/iliyamo/renewal-portal/internal/tasks"
)

// fakeStore is an in-memory implementation of every store port.  Its
// conditional writes hold the mutex across check and write, like the
// row locks and conditional updates of the MySQL repositories.
type fakeStore struct {
	mu     sync.Mutex
	nextID uint64

	projects    map[uint64]model.Project
	roles       map[uint64]model.Role
	rolePerms   map[uint64]map[string]bool
	knownPerms  map[string]bool
	memberships []model.Membership
	users       map[uint64]bool

	audit      []model.AuditEvent
	auditErr   error
	auditPanic bool

	documents   map[uint64]model.Document
	assignments map[uint64]model.DocumentAssignment
	apartments  map[uint64]model.Apartment
	occupants   []model.ApartmentUser
	votes       map[uint64]model.Vote
	ballots     []model.VoteBallot
	messages    map[uint64]model.Message

	markSentCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextID:      100,
		projects:    map[uint64]model.Project{},
		roles:       map[uint64]model.Role{},
		rolePerms:   map[uint64]map[string]bool{},
		knownPerms:  map[string]bool{},
		users:       map[uint64]bool{},
		documents:   map[uint64]model.Document{},
		assignments: map[uint64]model.DocumentAssignment{},
		apartments:  map[uint64]model.Apartment{},
		votes:       map[uint64]model.Vote{},
		messages:    map[uint64]model.Message{},
	}
}

func (f *fakeStore) id() uint64 {
	f.nextID++
	return f.nextID
}

// seeding helpers

func (f *fakeStore) addRole(id uint64, name string, keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[id] = model.Role{ID: id, Name: name}
	f.rolePerms[id] = map[string]bool{}
	for _, k := range keys {
		f.rolePerms[id][k] = true
		f.knownPerms[k] = true
	}
}

func (f *fakeStore) addProject(id uint64, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[id] = model.Project{ID: id, Name: name}
}

func (f *fakeStore) addMember(userID, projectID, roleID uint64) model.Membership {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID] = true
	m := model.Membership{ID: f.id(), UserID: userID, ProjectID: projectID, RoleID: roleID, RoleName: f.roles[roleID].Name}
	f.memberships = append(f.memberships, m)
	return m
}

func (f *fakeStore) principal(userID uint64) *model.Principal {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &model.Principal{ID: userID, Email: fmt.Sprintf("u%d@example.com", userID), GlobalRole: model.RoleResident}
	for _, m := range f.memberships {
		if m.UserID == userID {
			p.Memberships = append(p.Memberships, m)
		}
	}
	return p
}

func (f *fakeStore) auditEvents() []model.AuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AuditEvent(nil), f.audit...)
}

// RolePermissionStore

func (f *fakeStore) PermissionKeysForRoles(_ context.Context, roleIDs []uint64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for _, id := range roleIDs {
		for k := range f.rolePerms[id] {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// MemberStore

func (f *fakeStore) ListMemberships(_ context.Context, userID uint64) ([]model.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Membership
	for _, m := range f.memberships {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) ListProjectMembers(_ context.Context, projectID uint64) ([]model.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Membership
	for _, m := range f.memberships {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) AddMember(_ context.Context, projectID, userID, roleID uint64) (model.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.users[userID] {
		return model.Membership{}, repository.ErrNotFound
	}
	for _, m := range f.memberships {
		if m.UserID == userID && m.ProjectID == projectID {
			return model.Membership{}, repository.ErrDuplicate
		}
	}
	m := model.Membership{ID: f.id(), UserID: userID, ProjectID: projectID, RoleID: roleID, RoleName: f.roles[roleID].Name}
	f.memberships = append(f.memberships, m)
	return m, nil
}

func (f *fakeStore) RemoveMember(_ context.Context, projectID, userID uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.memberships {
		if m.UserID == userID && m.ProjectID == projectID {
			f.memberships = append(f.memberships[:i], f.memberships[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// ProjectStore / RoleStore

func (f *fakeStore) GetProject(_ context.Context, id uint64) (model.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return p, repository.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) GetRole(_ context.Context, id uint64) (model.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[id]
	if !ok {
		return r, repository.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) GrantPermission(_ context.Context, roleID uint64, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.knownPerms[key] {
		return repository.ErrNotFound
	}
	if f.rolePerms[roleID][key] {
		return repository.ErrDuplicate
	}
	f.rolePerms[roleID][key] = true
	return nil
}

func (f *fakeStore) RevokePermission(_ context.Context, roleID uint64, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.rolePerms[roleID][key] {
		return false, nil
	}
	delete(f.rolePerms[roleID], key)
	return true, nil
}

// AuditStore

func (f *fakeStore) Insert(ctx context.Context, ev *model.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auditPanic {
		panic("audit table gone")
	}
	if f.auditErr != nil {
		return f.auditErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ev.ID = f.id()
	f.audit = append(f.audit, *ev)
	return nil
}

func (f *fakeStore) List(_ context.Context, projectID *uint64, limit int) ([]model.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AuditEvent
	for i := len(f.audit) - 1; i >= 0 && len(out) < limit; i-- {
		ev := f.audit[i]
		if projectID != nil && (ev.ProjectID == nil || *ev.ProjectID != *projectID) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// DocumentStore

func (f *fakeStore) CreateDocument(_ context.Context, d *model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.ID = f.id()
	f.documents[d.ID] = *d
	return nil
}

func (f *fakeStore) GetDocument(_ context.Context, id uint64) (model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok {
		return d, repository.ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) CreateAssignment(_ context.Context, a *model.DocumentAssignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ex := range f.assignments {
		if ex.DocumentID == a.DocumentID && ex.ResidentUserID == a.ResidentUserID {
			return repository.ErrDuplicate
		}
	}
	a.ID = f.id()
	f.assignments[a.ID] = *a
	return nil
}

func (f *fakeStore) GetAssignment(_ context.Context, id uint64) (model.DocumentAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[id]
	if !ok {
		return a, repository.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) MarkSigned(_ context.Context, id uint64, signedAt time.Time, meta json.RawMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assignments[id]
	if !ok || a.Status != model.AssignmentPending {
		return false, nil
	}
	a.Status = model.AssignmentSigned
	a.SignedAt = &signedAt
	a.SignatureMeta = meta
	f.assignments[id] = a
	return true, nil
}

// ApartmentStore

func (f *fakeStore) addApartment(id, projectID uint64, label string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apartments[id] = model.Apartment{ID: id, ProjectID: projectID, Label: label}
}

func (f *fakeStore) GetApartment(_ context.Context, id uint64) (model.Apartment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apartments[id]
	if !ok {
		return a, repository.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) ListOccupants(_ context.Context, apartmentID uint64) ([]model.ApartmentUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ApartmentUser
	for _, o := range f.occupants {
		if o.ApartmentID == apartmentID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) AddOccupant(_ context.Context, apartmentID, userID uint64) (model.ApartmentUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var taken []string
	for _, o := range f.occupants {
		if o.ApartmentID != apartmentID {
			continue
		}
		if o.UserID == userID {
			return model.ApartmentUser{}, repository.ErrDuplicate
		}
		taken = append(taken, o.Role)
	}
	role, ok := model.OccupantRole(taken)
	if !ok {
		return model.ApartmentUser{}, repository.ErrConflict
	}
	o := model.ApartmentUser{ID: f.id(), ApartmentID: apartmentID, UserID: userID, Role: role}
	f.occupants = append(f.occupants, o)
	return o, nil
}

func (f *fakeStore) RemoveOccupant(_ context.Context, apartmentID, userID uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, o := range f.occupants {
		if o.ApartmentID == apartmentID && o.UserID == userID {
			f.occupants = append(f.occupants[:i], f.occupants[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// VoteStore

func (f *fakeStore) CreateVote(_ context.Context, v *model.Vote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v.ID = f.id()
	for i := range v.Options {
		v.Options[i].ID = f.id()
		v.Options[i].VoteID = v.ID
	}
	cp := *v
	cp.Options = append([]model.VoteOption(nil), v.Options...)
	f.votes[v.ID] = cp
	return nil
}

func (f *fakeStore) GetVote(_ context.Context, id uint64) (model.Vote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.votes[id]
	if !ok {
		return v, repository.ErrNotFound
	}
	return v, nil
}

func (f *fakeStore) TransitionVote(_ context.Context, id uint64, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.votes[id]
	if !ok || v.Status != from {
		return false, nil
	}
	v.Status = to
	f.votes[id] = v
	return true, nil
}

func (f *fakeStore) GetBallot(_ context.Context, voteID, userID uint64) (model.VoteBallot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.ballots {
		if b.VoteID == voteID && b.UserID == userID {
			return b, nil
		}
	}
	return model.VoteBallot{}, repository.ErrNotFound
}

func (f *fakeStore) CreateBallot(_ context.Context, b *model.VoteBallot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ex := range f.ballots {
		if ex.VoteID == b.VoteID && ex.UserID == b.UserID {
			return repository.ErrDuplicate
		}
	}
	b.ID = f.id()
	f.ballots = append(f.ballots, *b)
	return nil
}

func (f *fakeStore) BallotUserIDs(_ context.Context, voteID uint64) ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uint64
	for _, b := range f.ballots {
		if b.VoteID == voteID {
			ids = append(ids, b.UserID)
		}
	}
	return ids, nil
}

// MessageStore

func (f *fakeStore) CreateMessage(_ context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = f.id()
	f.messages[m.ID] = *m
	return nil
}

func (f *fakeStore) GetMessage(_ context.Context, id uint64) (model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return m, repository.ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) MarkSent(_ context.Context, id uint64, sentAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok || m.SentAt != nil {
		return false, nil
	}
	f.markSentCalls++
	m.SentAt = &sentAt
	f.messages[id] = m
	return true, nil
}

func (f *fakeStore) ListUnsentScheduled(_ context.Context) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.messages {
		if m.SentAt == nil && m.ScheduledAt != nil {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ListOverdue(_ context.Context, now time.Time) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.messages {
		if m.SentAt == nil && m.ScheduledAt != nil && !m.ScheduledAt.After(now) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// fakeClock returns a settable instant.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeStorage records uploads and hands out predictable URLs.
type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newFakeStorage() *fakeStorage { return &fakeStorage{objects: map[string][]byte{}} }

func (s *fakeStorage) Upload(_ context.Context, body []byte, key, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = body
	return key, nil
}

func (s *fakeStorage) GenerateTimeLimitedAccess(_ context.Context, key string, ttl time.Duration) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("https://files.example.com/%s?ttl=%s", key, ttl), nil
}

// fakeScheduler records Add calls without running anything.
type fakeScheduler struct {
	mu    sync.Mutex
	added []scheduledCall
	err   error
}

type scheduledCall struct {
	Name    string
	Payload any
	Opts    tasks.Options
}

func (s *fakeScheduler) Add(name string, payload any, opts tasks.Options) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, scheduledCall{Name: name, Payload: payload, Opts: opts})
	return fmt.Sprintf("task-%d", len(s.added)), nil
}

func (s *fakeScheduler) calls() []scheduledCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scheduledCall(nil), s.added...)
}

// fakeNotifier counts notifications.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []uint64
	err  error
}

func (n *fakeNotifier) MessageSent(_ context.Context, m model.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, m.ID)
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

var errStoreDown = errors.New("store down")

const (
	roleAdminID     uint64 = 1
	roleCommitteeID uint64 = 2
	roleResidentID  uint64 = 3

	projectA uint64 = 10
	projectB uint64 = 20
)

// seededStore returns a store with the default roles and two projects.
func seededStore() *fakeStore {
	f := newFakeStore()
	f.addRole(roleAdminID, model.RoleAdminRoot)
	f.addRole(roleCommitteeID, model.RoleCommittee,
		"documents.manage", "documents.assign", "apartments.manage",
		"votes.manage", "votes.view_results", "messages.send",
		"members.manage", "audit.read",
	)
	f.addRole(roleResidentID, model.RoleResident, "documents.sign_own", "votes.vote")
	f.knownPerms["roles.manage"] = true
	f.addProject(projectA, "Elm Street")
	f.addProject(projectB, "Harbour View")
	return f
}

