package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerAnalyzed     Trigger = "ANALYZED"
	TriggerExtracted    Trigger = "EXTRACTED"
	TriggerValidated    Trigger = "VALIDATED"
	TriggerRetryExtract Trigger = "RETRY_EXTRACT"
	TriggerReject       Trigger = "REJECT"
	TriggerFail         Trigger = "FAIL"
	TriggerCancel       Trigger = "CANCEL"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
