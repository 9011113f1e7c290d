package settle

// ErrorCode classifies settlement failures for callers. The settlement
// boundary never raises; every failure maps to exactly one code.
type ErrorCode string

const (
	// Configuration errors - fatal, never retried
	CodeNoSigningKey    ErrorCode = "NO_SIGNING_KEY"
	CodeNoRPCEndpoint   ErrorCode = "NO_RPC_ENDPOINT"
	CodeAddressMismatch ErrorCode = "ADDRESS_MISMATCH"

	// Validation errors - rejected immediately
	CodeUnsupportedChain  ErrorCode = "UNSUPPORTED_CHAIN"
	CodeInvalidPair       ErrorCode = "INVALID_PAIR"
	CodeInvalidAmount     ErrorCode = "INVALID_AMOUNT"
	CodeConflictingLimits ErrorCode = "CONFLICTING_LIMITS"

	// Rate limiting - expected, recoverable by waiting
	CodeCooldownActive ErrorCode = "COOLDOWN_ACTIVE"

	// Balance errors
	CodeInsufficientNative  ErrorCode = "INSUFFICIENT_NATIVE_BALANCE"
	CodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"
	CodeBelowMinimum        ErrorCode = "BELOW_MINIMUM_SIZE"

	// External service errors
	CodeQuoteFailed    ErrorCode = "QUOTE_FAILED"
	CodeQuoteTooSmall  ErrorCode = "QUOTE_TOO_SMALL"
	CodeApprovalFailed ErrorCode = "APPROVAL_FAILED"
	CodeBuildFailed    ErrorCode = "BUILD_FAILED"
	CodeSubmitFailed   ErrorCode = "SUBMIT_FAILED"

	// Anything unexpected caught at the boundary
	CodeInternal ErrorCode = "INTERNAL"
)

// truncateErr bounds diagnostic detail surfaced to callers.
func truncateErr(err error) string {
	const maxLen = 160
	s := err.Error()
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
