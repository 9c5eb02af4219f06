package entity

// Status constants for ApprovableRequest, mirrored by domain/workflow.State
const (
	StatusDraft                  = "DRAFT"
	StatusSubmitted              = "SUBMITTED"
	StatusPendingApproval        = "PENDING_APPROVAL"
	StatusClarificationRequested = "CLARIFICATION_REQUESTED"
	StatusResubmitted            = "RESUBMITTED"
	StatusApproved               = "APPROVED"
	StatusRejected               = "REJECTED"
	StatusWithdrawn              = "WITHDRAWN"
	StatusPaid                   = "PAID"
)

// Pre-approval status constants
const (
	PreApprovalStatusPending  = "PENDING"
	PreApprovalStatusApproved = "APPROVED"
	PreApprovalStatusRejected = "REJECTED"
	PreApprovalStatusExpired  = "EXPIRED"
	PreApprovalStatusUsed     = "USED"
)

// Approval history actions
const (
	ActionSubmit   = "SUBMIT"
	ActionResubmit = "RESUBMIT"
	ActionApprove  = "APPROVE"
	ActionReject   = "REJECT"
	ActionClarify  = "CLARIFY"
	ActionEscalate = "ESCALATE"
	ActionWithdraw = "WITHDRAW"
	ActionPay      = "PAY"
)

// Roles known to the approval core. Tier schedules may reference others.
const (
	RoleEmployee      = "EMPLOYEE"
	RoleApprover      = "APPROVER"
	RoleFinance       = "FINANCE"
	RoleCEO           = "CEO"
	RoleSuperApprover = "SUPER_APPROVER"
	RoleAdmin         = "ADMIN"
)

// Budget enforcement modes
const (
	EnforcementHardBlock    = "HARD_BLOCK"
	EnforcementSoftWarning  = "SOFT_WARNING"
	EnforcementAutoEscalate = "AUTO_ESCALATE"
)

// Budget scope kinds used to build scope keys such as "DEPARTMENT:eng"
const (
	ScopeDepartment = "DEPARTMENT"
	ScopeProject    = "PROJECT"
	ScopeCategory   = "CATEGORY"
)

// Notification status constants
const (
	NotificationStatusPending = "PENDING"
	NotificationStatusSent    = "SENT"
	NotificationStatusFailed  = "FAILED"
)

// SystemActorID is recorded as the actor of automatic transitions.
const SystemActorID = "system"

// BaseCurrencyScale is the number of fractional digits of base-currency amounts.
const BaseCurrencyScale = 2
