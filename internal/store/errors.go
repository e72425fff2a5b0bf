package store

import "errors"

// ErrPhaseMismatch is returned by AdvancePhase when the task's current phase
// no longer matches the expected "from" phase — a concurrent tick won the
// transition race. The caller should log and exit the tick cleanly.
var ErrPhaseMismatch = errors.New("phase mismatch")

// ErrDuplicateTask is returned by BulkInsertArticles when Article rows
// already exist for the given date.
var ErrDuplicateTask = errors.New("articles already exist for task date")

// ErrStatusMismatch is returned by CompleteArticles when a row being
// completed is not currently in the processing status.
var ErrStatusMismatch = errors.New("article not in processing status")

// ErrTaskNotFound is returned when an operation expects an existing
// DailyTask row and finds none.
var ErrTaskNotFound = errors.New("daily task not found")
