package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrStale           = "E_STALE"

	// Kernel action layer.
	ErrValidation    = "E_VALIDATION"
	ErrNotFound      = "E_NOT_FOUND"
	ErrQuotaExceeded = "E_QUOTA_EXCEEDED"
	ErrAuthorization = "E_AUTHORIZATION"
	ErrExecution     = "E_EXECUTION"

	// Must never surface through the action surface; its appearance in a
	// result is itself a defect (asserted in tests).
	ErrConflict = "E_CONFLICT"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrStale:           {},
	ErrValidation:      {},
	ErrNotFound:        {},
	ErrQuotaExceeded:   {},
	ErrAuthorization:   {},
	ErrExecution:       {},
	ErrConflict:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
