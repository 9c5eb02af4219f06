package workflow

import (
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

// approvalLifecycle is the transition table every request follows.
// SUBMITTED is where tier resolution and the budget check happen; REJECTED,
// WITHDRAWN and PAID have no outgoing edges.
var approvalLifecycle = domainwf.MustLifecycle(
	domainwf.Transition{From: domainwf.StateDraft, Trigger: domainwf.TriggerSubmit, To: domainwf.StateSubmitted},

	domainwf.Transition{From: domainwf.StateSubmitted, Trigger: domainwf.TriggerRoute, To: domainwf.StatePendingApproval},
	domainwf.Transition{From: domainwf.StateSubmitted, Trigger: domainwf.TriggerWithdraw, To: domainwf.StateWithdrawn},

	domainwf.Transition{From: domainwf.StatePendingApproval, Trigger: domainwf.TriggerAdvance, To: domainwf.StatePendingApproval},
	domainwf.Transition{From: domainwf.StatePendingApproval, Trigger: domainwf.TriggerEscalate, To: domainwf.StatePendingApproval},
	domainwf.Transition{From: domainwf.StatePendingApproval, Trigger: domainwf.TriggerApprove, To: domainwf.StateApproved},
	domainwf.Transition{From: domainwf.StatePendingApproval, Trigger: domainwf.TriggerReject, To: domainwf.StateRejected},
	domainwf.Transition{From: domainwf.StatePendingApproval, Trigger: domainwf.TriggerClarify, To: domainwf.StateClarificationRequested},
	domainwf.Transition{From: domainwf.StatePendingApproval, Trigger: domainwf.TriggerWithdraw, To: domainwf.StateWithdrawn},

	domainwf.Transition{From: domainwf.StateClarificationRequested, Trigger: domainwf.TriggerResubmit, To: domainwf.StateResubmitted},
	domainwf.Transition{From: domainwf.StateResubmitted, Trigger: domainwf.TriggerSubmit, To: domainwf.StateSubmitted},

	domainwf.Transition{From: domainwf.StateApproved, Trigger: domainwf.TriggerPay, To: domainwf.StatePaid},
)
