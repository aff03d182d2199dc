package model

// Permission keys seeded by the initial migration.  Roles are granted keys
// at runtime through role_permissions; nothing in code maps roles to keys.
const (
	PermDocumentsManage  = "documents.manage"
	PermDocumentsAssign  = "documents.assign"
	PermDocumentsSignOwn = "documents.sign_own"
	PermApartmentsManage = "apartments.manage"
	PermVotesManage      = "votes.manage"
	PermVotesVote        = "votes.vote"
	PermVotesViewResults = "votes.view_results"
	PermMessagesSend     = "messages.send"
	PermMembersManage    = "members.manage"
	PermRolesManage      = "roles.manage"
	PermAuditRead        = "audit.read"
)
