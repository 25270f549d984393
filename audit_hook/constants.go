package audithook

// Action constants for audit events.
const (
	// Payment actions
	ActionPaymentReceived = "payment.received"
	ActionPaymentRejected = "payment.rejected"

	// Order actions
	ActionOrderPaid             = "order.paid"
	ActionOrderFailed           = "order.failed"
	ActionOrderAlreadyFinalized = "order.already_finalized"
	ActionOrderCanceled         = "order.canceled"
	ActionOrderRefunded         = "order.refunded"

	// Quota actions
	ActionQuotaReserved     = "quota.reserved"
	ActionQuotaReleased     = "quota.released"
	ActionSoftLimitExceeded = "soft_limit.exceeded"
	ActionHardLimitExceeded = "hard_limit.exceeded"

	// Reconciliation actions
	ActionReconciled = "reconciliation.completed"
)

// Resource constants for audit events.
const (
	ResourcePayment        = "payment"
	ResourceOrder          = "order"
	ResourceQuota          = "quota"
	ResourceReconciliation = "reconciliation"
)

// Category constants for audit events.
const (
	CategoryPayment = "payment"
	CategoryBilling = "billing"
	CategoryUsage   = "usage"
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
