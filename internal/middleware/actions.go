package middleware

import "github.com/iliyamo/renewal-portal/internal/model"

// Action declares what a guarded route needs and what it leaves in the
// audit trail.  An empty AuditAction marks a read-only action.
type Action struct {
	Permissions   []string
	AuditAction   string
	TargetType    string
	TargetParam   string // path parameter holding the target ID, if any
	ProjectScoped bool
}

// Action identifiers used by the router.
const (
	ActionDocumentCreate       = "documents.create"
	ActionDocumentAssign       = "documents.assign"
	ActionAssignmentSign       = "assignments.sign"
	ActionAssignmentDownload   = "assignments.download"
	ActionApartmentAddUser     = "apartments.add_user"
	ActionApartmentRemoveUser  = "apartments.remove_user"
	ActionApartmentListUsers   = "apartments.list_users"
	ActionVoteCreate           = "votes.create"
	ActionVoteOpen             = "votes.open"
	ActionVoteClose            = "votes.close"
	ActionVoteCast             = "votes.cast"
	ActionVoteParticipation    = "votes.participation"
	ActionMessageCreate        = "messages.create"
	ActionMessageSend          = "messages.send"
	ActionMemberAdd            = "members.add"
	ActionMemberRemove         = "members.remove"
	ActionRolePermissionGrant  = "roles.grant_permission"
	ActionRolePermissionRevoke = "roles.revoke_permission"
	ActionAuditList            = "audit.list"
)

// Actions is the single place where routes meet permissions and audit keys.
var Actions = map[string]Action{
	ActionDocumentCreate: {
		Permissions: []string{model.PermDocumentsManage},
		AuditAction: "documents.created", TargetType: "document",
		ProjectScoped: true,
	},
	ActionDocumentAssign: {
		Permissions: []string{model.PermDocumentsAssign},
		AuditAction: "documents.assigned", TargetType: "document", TargetParam: "id",
		ProjectScoped: true,
	},
	ActionAssignmentSign: {
		Permissions: []string{model.PermDocumentsSignOwn},
		AuditAction: "documents.signed", TargetType: "document_assignment", TargetParam: "id",
		ProjectScoped: true,
	},
	ActionAssignmentDownload: {
		Permissions:   []string{model.PermDocumentsSignOwn},
		ProjectScoped: true,
	},
	ActionApartmentAddUser: {
		Permissions: []string{model.PermApartmentsManage},
		AuditAction: "apartments.user_added", TargetType: "apartment", TargetParam: "id",
		ProjectScoped: true,
	},
	ActionApartmentRemoveUser: {
		Permissions: []string{model.PermApartmentsManage},
		AuditAction: "apartments.user_removed", TargetType: "apartment", TargetParam: "id",
		ProjectScoped: true,
	},
	ActionApartmentListUsers: {
		Permissions:   []string{model.PermApartmentsManage},
		ProjectScoped: true,
	},
	ActionVoteCreate: {
		Permissions: []string{model.PermVotesManage},
		AuditAction: "votes.created", TargetType: "vote",
		ProjectScoped: true,
	},
	ActionVoteOpen: {
		Permissions: []string{model.PermVotesManage},
		AuditAction: "votes.opened", TargetType: "vote", TargetParam: "id",
		ProjectScoped: true,
	},
	ActionVoteClose: {
		Permissions: []string{model.PermVotesManage},
		AuditAction: "votes.closed", TargetType: "vote", TargetParam: "id",
		ProjectScoped: true,
	},
	ActionVoteCast: {
		Permissions: []string{model.PermVotesVote},
		AuditAction: "votes.cast", TargetType: "vote", TargetParam: "id",
		ProjectScoped: true,
	},
	ActionVoteParticipation: {
		Permissions:   []string{model.PermVotesViewResults},
		ProjectScoped: true,
	},
	ActionMessageCreate: {
		Permissions: []string{model.PermMessagesSend},
		AuditAction: "messages.created", TargetType: "message",
		ProjectScoped: true,
	},
	ActionMessageSend: {
		Permissions: []string{model.PermMessagesSend},
		AuditAction: "messages.sent", TargetType: "message", TargetParam: "id",
		ProjectScoped: true,
	},
	ActionMemberAdd: {
		Permissions: []string{model.PermMembersManage},
		AuditAction: "members.added", TargetType: "user",
		ProjectScoped: true,
	},
	ActionMemberRemove: {
		Permissions: []string{model.PermMembersManage},
		AuditAction: "members.removed", TargetType: "user", TargetParam: "user_id",
		ProjectScoped: true,
	},
	ActionRolePermissionGrant: {
		Permissions: []string{model.PermRolesManage},
		AuditAction: "roles.permission_granted", TargetType: "role", TargetParam: "id",
	},
	ActionRolePermissionRevoke: {
		Permissions: []string{model.PermRolesManage},
		AuditAction: "roles.permission_revoked", TargetType: "role", TargetParam: "id",
	},
	ActionAuditList: {
		Permissions:   []string{model.PermAuditRead},
		ProjectScoped: true,
	},
}
