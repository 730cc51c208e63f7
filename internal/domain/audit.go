package domain

// Audit log actions.
const (
	ActionAddScore           = "ADD_SCORE"
	ActionAddTeacherScore    = "ADD_TEACHER_SCORE"
	ActionEnqueuePending     = "ENQUEUE_PENDING"
	ActionResolvePending     = "RESOLVE_PENDING"
	ActionRejectPending      = "REJECT_PENDING"
	ActionDiscardTeacherOnly = "DISCARD_TEACHER_ONLY"
	ActionImportBatch        = "IMPORT_BATCH"
	ActionImportRoster       = "IMPORT_ROSTER"
)
