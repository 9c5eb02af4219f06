package workflow

// Trigger is a command that may move a request to another state.
type Trigger string

const (
	TriggerSubmit   Trigger = "SUBMIT"
	TriggerRoute    Trigger = "ROUTE"
	TriggerAdvance  Trigger = "ADVANCE"
	TriggerEscalate Trigger = "ESCALATE"
	TriggerApprove  Trigger = "APPROVE"
	TriggerReject   Trigger = "REJECT"
	TriggerClarify  Trigger = "CLARIFY"
	TriggerResubmit Trigger = "RESUBMIT"
	TriggerWithdraw Trigger = "WITHDRAW"
	TriggerPay      Trigger = "PAY"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
