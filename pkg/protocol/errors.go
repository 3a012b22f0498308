package protocol

// Wire error codes. The set is advisory, not closed; peers must tolerate
// codes they do not recognise.
const (
	ErrCodeSecurity           = "SECURITY_ERROR"
	ErrCodeFileNotFound       = "FILE_NOT_FOUND"
	ErrCodeEncoding           = "ENCODING_ERROR"
	ErrCodePermissionDenied   = "PERMISSION_DENIED"
	ErrCodeInvalidLineRange   = "INVALID_LINE_RANGE"
	ErrCodeLineCountMismatch  = "LINE_COUNT_MISMATCH"
	ErrCodeInvalidRegex       = "INVALID_REGEX"
	ErrCodeSearchTextNotFound = "SEARCH_TEXT_NOT_FOUND"
	ErrCodeCommandTimeout     = "COMMAND_TIMEOUT"
	ErrCodeCommandError       = "COMMAND_ERROR"
	ErrCodeNotAGitRepo        = "NOT_A_GIT_REPO"
	ErrCodeToolNotFound       = "TOOL_NOT_FOUND"
	ErrCodeToolExecution      = "TOOL_EXECUTION_ERROR"
	ErrCodeAIProcessing       = "AI_PROCESSING_ERROR"
	ErrCodeUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
	ErrCodeInvalidJSON        = "INVALID_JSON"
	ErrCodeToolRequestMissing = "TOOL_REQUEST_NOT_FOUND"
	ErrCodeMessageProcessing  = "MESSAGE_PROCESSING_ERROR"
	ErrCodeSessionNotFound    = "SESSION_NOT_FOUND"
)
