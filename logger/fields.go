package logger

// Standard field names for consistent structured logging across emisor.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Coordination
	FieldSessionID    = "session_id"
	FieldPipelineType = "pipeline_type"
	FieldRunID        = "run_id"
	FieldTriggerLabel = "trigger_label"

	// Submission
	FieldFactura    = "factura"
	FieldStage      = "stage"
	FieldHTTPStatus = "http_status"
	FieldTicketID   = "ticket_id"
	FieldInsured    = "insured_count"
	FieldRemoved    = "removed_count"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"
)
