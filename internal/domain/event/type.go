package event

// Type identifies the type of domain event
type Type string

const (
	TypeRequestSubmitted       Type = "request.submitted"
	TypeRequestResubmitted     Type = "request.resubmitted"
	TypeRequestAdvanced        Type = "request.advanced"
	TypeRequestEscalated       Type = "request.escalated"
	TypeRequestApproved        Type = "request.approved"
	TypeRequestRejected        Type = "request.rejected"
	TypeClarificationRequested Type = "request.clarification_requested"
	TypeRequestWithdrawn       Type = "request.withdrawn"
	TypeRequestPaid            Type = "request.paid"
	TypeEmergencyApproval      Type = "approval.emergency"
	TypeApprovalStalled        Type = "approval.stalled"
	TypePreApprovalRequested   Type = "preapproval.requested"
	TypePreApprovalDecided     Type = "preapproval.decided"
	TypeDelegationCreated      Type = "delegation.created"
	TypeDelegationRevoked      Type = "delegation.revoked"
)

var validTypes = map[Type]bool{
	TypeRequestSubmitted:       true,
	TypeRequestResubmitted:     true,
	TypeRequestAdvanced:        true,
	TypeRequestEscalated:       true,
	TypeRequestApproved:        true,
	TypeRequestRejected:        true,
	TypeClarificationRequested: true,
	TypeRequestWithdrawn:       true,
	TypeRequestPaid:            true,
	TypeEmergencyApproval:      true,
	TypeApprovalStalled:        true,
	TypePreApprovalRequested:   true,
	TypePreApprovalDecided:     true,
	TypeDelegationCreated:      true,
	TypeDelegationRevoked:      true,
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	return validTypes[t]
}
