package errors

var (
	ErrUnknown                = New(ERR_UNKNOWN, "unknown error")
	ErrInvalidArgument        = New(ERR_INVALID_ARGUMENT, "invalid argument")
	ErrNotFound               = New(ERR_NOT_FOUND, "not found")
	ErrProcessing             = New(ERR_PROCESSING, "error processing")
	ErrConfiguration          = New(ERR_CONFIGURATION, "configuration error")
	ErrStorage                = New(ERR_STORAGE, "storage error")
	ErrConstraintViolation    = New(ERR_CONSTRAINT_VIOLATION, "constraint violated")
	ErrUtxoExists             = New(ERR_UTXO_EXISTS, "utxo already exists")
	ErrUtxoNotFound           = New(ERR_UTXO_NOT_FOUND, "utxo not found")
	ErrUtxoSpent              = New(ERR_UTXO_SPENT, "utxo already spent")
	ErrBlinderMissing         = New(ERR_BLINDER_MISSING, "missing blinder key for confidential output")
	ErrInsufficientFunds      = New(ERR_INSUFFICIENT_FUNDS, "insufficient funds")
	ErrContractNotFound       = New(ERR_CONTRACT_NOT_FOUND, "contract not found")
	ErrInvalidTransition      = New(ERR_INVALID_TRANSITION, "invalid lifecycle transition")
	ErrTiming                 = New(ERR_TIMING, "timing guard failed")
	ErrOracleInvalidSignature = New(ERR_ORACLE_INVALID_SIGNATURE, "oracle signature invalid")
	ErrOracleHeightMismatch   = New(ERR_ORACLE_HEIGHT_MISMATCH, "oracle attestation height mismatch")
	ErrMalformedEvent         = New(ERR_MALFORMED_EVENT, "malformed relay event")
	ErrInvalidSignature       = New(ERR_INVALID_SIGNATURE, "invalid event signature")
	ErrInvalidCommitment      = New(ERR_INVALID_COMMITMENT, "invalid taproot commitment")
	ErrBroadcastRejected      = New(ERR_BROADCAST_REJECTED, "broadcast rejected")
)

// errors initialization functions

func NewUnknownError(message string, params ...interface{}) error {
	return New(ERR_UNKNOWN, message, params...)
}

func NewInvalidArgumentError(message string, params ...interface{}) error {
	return New(ERR_INVALID_ARGUMENT, message, params...)
}

func NewNotFoundError(message string, params ...interface{}) error {
	return New(ERR_NOT_FOUND, message, params...)
}

func NewProcessingError(message string, params ...interface{}) error {
	return New(ERR_PROCESSING, message, params...)
}

func NewConfigurationError(message string, params ...interface{}) error {
	return New(ERR_CONFIGURATION, message, params...)
}

func NewStorageError(message string, params ...interface{}) error {
	return New(ERR_STORAGE, message, params...)
}

func NewConstraintViolationError(message string, params ...interface{}) error {
	return New(ERR_CONSTRAINT_VIOLATION, message, params...)
}

func NewUtxoExistsError(message string, params ...interface{}) error {
	return New(ERR_UTXO_EXISTS, message, params...)
}

func NewUtxoNotFoundError(message string, params ...interface{}) error {
	return New(ERR_UTXO_NOT_FOUND, message, params...)
}

func NewUtxoSpentError(message string, params ...interface{}) error {
	return New(ERR_UTXO_SPENT, message, params...)
}

func NewBlinderMissingError(message string, params ...interface{}) error {
	return New(ERR_BLINDER_MISSING, message, params...)
}

func NewInsufficientFundsError(message string, params ...interface{}) error {
	return New(ERR_INSUFFICIENT_FUNDS, message, params...)
}

func NewContractNotFoundError(message string, params ...interface{}) error {
	return New(ERR_CONTRACT_NOT_FOUND, message, params...)
}

func NewInvalidTransitionError(message string, params ...interface{}) error {
	return New(ERR_INVALID_TRANSITION, message, params...)
}

func NewTimingError(message string, params ...interface{}) error {
	return New(ERR_TIMING, message, params...)
}

func NewOracleInvalidSignatureError(message string, params ...interface{}) error {
	return New(ERR_ORACLE_INVALID_SIGNATURE, message, params...)
}

func NewOracleHeightMismatchError(message string, params ...interface{}) error {
	return New(ERR_ORACLE_HEIGHT_MISMATCH, message, params...)
}

func NewMalformedEventError(message string, params ...interface{}) error {
	return New(ERR_MALFORMED_EVENT, message, params...)
}

func NewInvalidSignatureError(message string, params ...interface{}) error {
	return New(ERR_INVALID_SIGNATURE, message, params...)
}

func NewInvalidCommitmentError(message string, params ...interface{}) error {
	return New(ERR_INVALID_COMMITMENT, message, params...)
}

func NewBroadcastRejectedError(message string, params ...interface{}) error {
	return New(ERR_BROADCAST_REJECTED, message, params...)
}
