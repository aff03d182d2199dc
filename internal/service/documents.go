package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/renewal-portal/internal/model"
	"github.com/iliyamo/renewal-portal/internal/repository"
)

// DocumentService runs the assignment and signing workflow.  Assigning is
// idempotent per (document, resident) and signing is idempotent per
// assignment, so clients may retry either call freely.
type DocumentService struct {
	docs        DocumentStore
	apartments  ApartmentStore
	members     MemberStore
	storage     Storage
	clock       Clock
	downloadTTL time.Duration
	logger      *zap.Logger
}

func NewDocumentService(docs DocumentStore, apartments ApartmentStore, members MemberStore, storage Storage, clock Clock, downloadTTL time.Duration, logger *zap.Logger) *DocumentService {
	if downloadTTL <= 0 {
		downloadTTL = 15 * time.Minute
	}
	return &DocumentService{
		docs:        docs,
		apartments:  apartments,
		members:     members,
		storage:     storage,
		clock:       clock,
		downloadTTL: downloadTTL,
		logger:      logger,
	}
}

// CreateDocumentInput is an uploaded file to register in a project.
type CreateDocumentInput struct {
	ProjectID   uint64
	Title       string
	FileName    string
	ContentType string
	Body        []byte
	CreatedBy   uint64
}

// CreateDocument stores the file in object storage and records it.
func (s *DocumentService) CreateDocument(ctx context.Context, in CreateDocumentInput) (model.Document, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return model.Document{}, badRequest("title is required")
	}
	if len(in.Body) == 0 {
		return model.Document{}, badRequest("file is empty")
	}
	ct := in.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	key := fmt.Sprintf("projects/%d/documents/%s%s", in.ProjectID, uuid.NewString(), strings.ToLower(path.Ext(in.FileName)))
	storedKey, err := s.storage.Upload(ctx, in.Body, key, ct)
	if err != nil {
		return model.Document{}, fmt.Errorf("upload document: %w", err)
	}
	doc := model.Document{
		ProjectID:   in.ProjectID,
		Title:       title,
		StorageKey:  storedKey,
		ContentType: ct,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.docs.CreateDocument(ctx, &doc); err != nil {
		return model.Document{}, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

// AssignTarget names who should sign: either every occupant of an
// apartment or an explicit list of resident users.  Exactly one form must
// be given.
type AssignTarget struct {
	ApartmentID *uint64  `json:"apartment_id,omitempty"`
	UserIDs     []uint64 `json:"user_ids,omitempty"`
}

// AssignResult lists the assignments created by this call.  Assignments
// that already existed are skipped and not returned.
type AssignResult struct {
	Created []model.DocumentAssignment `json:"created"`
}

// AssignDocument creates a PENDING assignment for every resolved user that
// does not have one yet.
func (s *DocumentService) AssignDocument(ctx context.Context, projectID, documentID uint64, target AssignTarget) (AssignResult, error) {
	if _, err := s.documentInProject(ctx, projectID, documentID); err != nil {
		return AssignResult{}, err
	}
	hasApartment, hasUsers := target.ApartmentID != nil, len(target.UserIDs) > 0
	if hasApartment == hasUsers {
		return AssignResult{}, badRequest("exactly one of apartment_id or user_ids is required")
	}

	var userIDs []uint64
	var err error
	if hasApartment {
		userIDs, err = s.apartmentOccupants(ctx, projectID, *target.ApartmentID)
	} else {
		userIDs, err = s.validateResidents(ctx, projectID, target.UserIDs)
	}
	if err != nil {
		return AssignResult{}, err
	}

	res := AssignResult{Created: []model.DocumentAssignment{}}
	for _, uid := range userIDs {
		a := model.DocumentAssignment{
			DocumentID:     documentID,
			ResidentUserID: uid,
			Status:         model.AssignmentPending,
			CreatedAt:      s.clock.Now(),
		}
		err := s.docs.CreateAssignment(ctx, &a)
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return AssignResult{}, fmt.Errorf("create assignment for user %d: %w", uid, err)
		}
		res.Created = append(res.Created, a)
	}
	s.logger.Info("document assigned",
		zap.Uint64("document_id", documentID),
		zap.Int("targets", len(userIDs)),
		zap.Int("created", len(res.Created)),
	)
	return res, nil
}

// SignResult is the signed assignment.  AlreadySigned is true when the
// assignment was signed before this call; nothing was changed then.
type SignResult struct {
	Assignment    model.DocumentAssignment `json:"assignment"`
	AlreadySigned bool                     `json:"already_signed"`
}

// Sign moves the caller's assignment to SIGNED.  Signing an assignment
// that is already signed returns it unchanged with AlreadySigned set.
func (s *DocumentService) Sign(ctx context.Context, assignmentID, callerID uint64, meta map[string]any) (SignResult, error) {
	a, err := s.ownAssignment(ctx, assignmentID, callerID)
	if err != nil {
		return SignResult{}, err
	}
	if a.Signed() {
		return SignResult{Assignment: a, AlreadySigned: true}, nil
	}

	var raw json.RawMessage
	if len(meta) > 0 {
		if raw, err = json.Marshal(meta); err != nil {
			return SignResult{}, badRequest("signature metadata is not valid JSON")
		}
	}
	now := s.clock.Now()
	won, err := s.docs.MarkSigned(ctx, a.ID, now, raw)
	if err != nil {
		return SignResult{}, fmt.Errorf("mark signed: %w", err)
	}
	if !won {
		// A concurrent request signed first; report its result.
		current, err := s.docs.GetAssignment(ctx, a.ID)
		if err != nil {
			return SignResult{}, fmt.Errorf("reload assignment: %w", err)
		}
		return SignResult{Assignment: current, AlreadySigned: true}, nil
	}
	a.Status = model.AssignmentSigned
	a.SignedAt = &now
	a.SignatureMeta = raw
	return SignResult{Assignment: a}, nil
}

// DownloadLink is a time-limited credential for the document file.
type DownloadLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Download returns a presigned link to the document behind the caller's
// assignment.
func (s *DocumentService) Download(ctx context.Context, assignmentID, callerID uint64) (DownloadLink, error) {
	a, err := s.ownAssignment(ctx, assignmentID, callerID)
	if err != nil {
		return DownloadLink{}, err
	}
	doc, err := s.docs.GetDocument(ctx, a.DocumentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return DownloadLink{}, notFound("document %d", a.DocumentID)
		}
		return DownloadLink{}, fmt.Errorf("get document: %w", err)
	}
	url, err := s.storage.GenerateTimeLimitedAccess(ctx, doc.StorageKey, s.downloadTTL)
	if err != nil {
		return DownloadLink{}, fmt.Errorf("presign document: %w", err)
	}
	return DownloadLink{URL: url, ExpiresAt: s.clock.Now().Add(s.downloadTTL)}, nil
}

func (s *DocumentService) ownAssignment(ctx context.Context, assignmentID, callerID uint64) (model.DocumentAssignment, error) {
	a, err := s.docs.GetAssignment(ctx, assignmentID)
	if errors.Is(err, repository.ErrNotFound) {
		return a, notFound("assignment %d", assignmentID)
	}
	if err != nil {
		return a, fmt.Errorf("get assignment: %w", err)
	}
	if a.ResidentUserID != callerID {
		return a, forbidden("assignment %d belongs to another resident", assignmentID)
	}
	return a, nil
}

func (s *DocumentService) documentInProject(ctx context.Context, projectID, documentID uint64) (model.Document, error) {
	doc, err := s.docs.GetDocument(ctx, documentID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && doc.ProjectID != projectID) {
		return model.Document{}, notFound("document %d", documentID)
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *DocumentService) apartmentOccupants(ctx context.Context, projectID, apartmentID uint64) ([]uint64, error) {
	apt, err := s.apartments.GetApartment(ctx, apartmentID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && apt.ProjectID != projectID) {
		return nil, notFound("apartment %d", apartmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("get apartment: %w", err)
	}
	rows, err := s.apartments.ListOccupants(ctx, apartmentID)
	if err != nil {
		return nil, fmt.Errorf("list occupants: %w", err)
	}
	ids := make([]uint64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.UserID)
	}
	return ids, nil
}

// validateResidents dedupes ids and fails with BadRequest naming every id
// that is not a resident member of the project.
func (s *DocumentService) validateResidents(ctx context.Context, projectID uint64, ids []uint64) ([]uint64, error) {
	members, err := s.members.ListProjectMembers(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project members: %w", err)
	}
	residents := make(map[uint64]bool, len(members))
	for _, m := range members {
		if m.RoleName == model.RoleResident {
			residents[m.UserID] = true
		}
	}
	var valid, offending []uint64
	seen := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if residents[id] {
			valid = append(valid, id)
		} else {
			offending = append(offending, id)
		}
	}
	if len(offending) > 0 {
		return nil, &Error{Kind: ErrBadRequest, Message: "users are not residents of the project", Offending: offending}
	}
	return valid, nil
}
