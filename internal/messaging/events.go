// Package messaging moves domain events between federation servers: a
// fan-out publisher that POSTs envelopes to each target's receiver
// endpoint, a subscriber facade over the local bus, and an optional AMQP
// bridge for out-of-federation consumers.
package messaging

// ReceivePath is the well-known event-receiver route every participating
// server exposes.
const ReceivePath = "/api/events/receive"

// Well-known event types exchanged between the domain servers. Payload
// shape is per-type and interpreted by subscribers, not by this package.
const (
	EventDeliverableSubmitted = "deliverable_submitted"
	EventDeliverableApproved  = "deliverable_approved"
	EventMilestoneCompleted   = "milestone_completed"
	EventComplianceAlert      = "compliance_alert"
	EventSubcontractAwarded   = "subcontract_awarded"
	EventInvoiceApproved      = "invoice_approved"
	EventProgramUpdated       = "program_updated"
	EventServerHealthChanged  = "server_health_changed"
)

// Ack is the acknowledgment body a receiver returns. Anything other than a
// 2xx response with a parseable Ack counts as a delivery failure.
type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
