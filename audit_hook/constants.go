package audithook

// Action constants for audit events.
const (
	// Fee catalog actions
	ActionStructureCreated   = "fee_structure.created"
	ActionStructurePublished = "fee_structure.published"
	ActionStructureDefault   = "fee_structure.default_changed"
	ActionStructureDeleted   = "fee_structure.deleted"
	ActionItemCreated        = "fee_item.created"
	ActionItemUpdated        = "fee_item.updated"
	ActionItemDeleted        = "fee_item.deleted"

	// Invoice actions
	ActionInvoicesGenerated = "invoices.generated"
	ActionInvoiceIssued     = "invoice.issued"
	ActionInvoiceCancelled  = "invoice.cancelled"
	ActionInvoicePaid       = "invoice.paid"

	// Payment actions
	ActionPaymentRecorded = "payment.recorded"
	ActionOverpayment     = "payment.overpayment"

	// Conversation actions
	ActionConversationTurn = "conversation.turn"
)

// Resource constants for audit events.
const (
	ResourceFeeStructure = "fee_structure"
	ResourceFeeItem      = "fee_item"
	ResourceInvoice      = "invoice"
	ResourcePayment      = "payment"
	ResourceConversation = "conversation"
)

// Category constants for audit events.
const (
	CategoryCatalog      = "catalog"
	CategoryBilling      = "billing"
	CategoryPayment      = "payment"
	CategoryConversation = "conversation"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
