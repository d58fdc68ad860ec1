package utils

type AppError struct {
	Code    string
	Message string
	Origin  error // Original error that caused this error, if any
}

func (appErr *AppError) Error() string {
	if appErr.Origin != nil {
		return appErr.Message + ": " + appErr.Origin.Error()
	}
	return appErr.Message
}

// Standard error codes for the application
const (
	// Resource errors
	ErrNotFound     = "NOT_FOUND"
	ErrDuplicate    = "DUPLICATE"
	ErrInvalidInput = "INVALID_INPUT"

	// Authentication/Authorization errors
	ErrUnauthorized = "UNAUTHORIZED"
	ErrForbidden    = "FORBIDDEN" // User is authenticated but doesn't have permission
	ErrInvalidToken = "INVALID_TOKEN"

	// Messaging errors
	ErrFetch          = "FETCH_ERROR"     // Transient transport failure; recover by reopening the conversation
	ErrEditDenied     = "EDIT_DENIED"     // Edit window lapsed or message not owned by the caller
	ErrNotReady       = "NOT_READY"       // Command issued before the session reached Live
	ErrUploadFailed   = "UPLOAD_FAILED"   // Attachment upload failed; the send is aborted
	ErrPermissionRace = "PERMISSION_RACE" // Remote write rejected because the row already exists
	ErrSessionClosed  = "SESSION_CLOSED"  // Command arrived for a conversation that is no longer open

	// Actor communication errors
	ErrActorTimeout  = "ACTOR_TIMEOUT"
	ErrActorNotFound = "ACTOR_NOT_FOUND"

	ErrDatabase = "DATABASE_ERROR"
)

// Error creation helper functions
func NewAppError(code string, message string, originalErr error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Origin:  originalErr,
	}
}

func NewUnauthorizedError(reason string) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "Unauthorized: " + reason,
	}
}

func NewActorTimeoutError(actorName string) *AppError {
	return &AppError{
		Code:    ErrActorTimeout,
		Message: "Actor communication timeout: " + actorName,
	}
}

// Helper method to check if an error is of a specific type
func IsErrorCode(err error, code string) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// IsPermissionRace reports whether a remote rejection belongs to the benign
// duplicate-submission class: the row already exists, so the write has in
// effect already been applied. Only duplicate-key violations map to this
// code; every other rejection is a genuine failure.
func IsPermissionRace(err error) bool {
	return IsErrorCode(err, ErrPermissionRace)
}

// AppErrorToHTTPStatus converts an AppError code to an HTTP status code.
func AppErrorToHTTPStatus(errorCode string) int {
	switch errorCode {
	case ErrNotFound, ErrActorNotFound:
		return 404 // http.StatusNotFound
	case ErrInvalidInput:
		return 400 // http.StatusBadRequest
	case ErrUnauthorized, ErrInvalidToken:
		return 401 // http.StatusUnauthorized
	case ErrForbidden, ErrEditDenied:
		return 403 // http.StatusForbidden
	case ErrDuplicate:
		return 409 // http.StatusConflict
	case ErrNotReady, ErrSessionClosed:
		return 409 // http.StatusConflict
	case ErrUploadFailed:
		return 502 // http.StatusBadGateway
	case ErrFetch, ErrDatabase, ErrActorTimeout:
		return 500 // http.StatusInternalServerError
	default:
		return 500 // http.StatusInternalServerError for unknown errors
	}
}
