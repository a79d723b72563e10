package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown      ErrorCode = 1
	ErrCodeRunCancelled ErrorCode = 2

	// Configuration errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeMissingParameter     ErrorCode = 102
	ErrCodeInvalidVersion       ErrorCode = 103
	ErrCodeVersionMismatch      ErrorCode = 104
	ErrCodeInvalidDriver        ErrorCode = 105

	// Storage errors (200-299)
	ErrCodeStorageUnreachable ErrorCode = 200
	ErrCodeSchemaIncompatible ErrorCode = 201
	ErrCodeLoadChunkFailed    ErrorCode = 202
	ErrCodeSessionReleased    ErrorCode = 203
	ErrCodeQueryFailed        ErrorCode = 204
	ErrCodeSchemaCreateFailed ErrorCode = 205
	ErrCodeTransactionAborted ErrorCode = 206

	// Data errors (300-399)
	ErrCodeNormalizationDefect ErrorCode = 300
	ErrCodeInvalidDate         ErrorCode = 301

	// Market data errors (700-799)
	ErrCodeMarketDataFetchFailed ErrorCode = 700
	ErrCodeProviderUnreachable   ErrorCode = 701
	ErrCodeMarketDataParseFailed ErrorCode = 702
	ErrCodeTickerNotFound        ErrorCode = 703
	ErrCodeInvalidProvider       ErrorCode = 704
)

// Fatal reports whether an error with this code must terminate a run.
func (c ErrorCode) Fatal() bool {
	switch c {
	case ErrCodeStorageUnreachable, ErrCodeSchemaIncompatible, ErrCodeSchemaCreateFailed,
		ErrCodeInvalidConfiguration, ErrCodeVersionMismatch, ErrCodeInvalidDriver:
		return true
	default:
		return false
	}
}
