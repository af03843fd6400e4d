package failure

// Kind is the closed set of failure categories the rest of the system
// depends on. Anything that inspects raw error text lives in this package.
type Kind string

const (
	UserCancelled       Kind = "UserCancelled"
	Throttled           Kind = "Throttled"
	DuplicateAction     Kind = "DuplicateAction"
	WindowClosed        Kind = "WindowClosed"
	InsufficientFunds   Kind = "InsufficientFunds"
	NetworkError        Kind = "NetworkError"
	StorageError        Kind = "StorageError"
	ContractRejected    Kind = "ContractRejected"
	PreparationFailed   Kind = "PreparationFailed"
	UnknownEnumValue    Kind = "UnknownEnumValue"
	NormalizationFailed Kind = "NormalizationError"
	UnknownError        Kind = "UnknownError"
)

var kindMessages = map[Kind]string{
	UserCancelled:       "You cancelled the transaction.",
	Throttled:           "You're making requests too quickly. Please wait a moment and try again.",
	DuplicateAction:     "You have already signed this petition.",
	WindowClosed:        "This petition is not accepting signatures right now.",
	InsufficientFunds:   "Insufficient funds to complete this transaction. Please add more ETH to your wallet.",
	NetworkError:        "Network connection issue. Please check your internet and try again.",
	StorageError:        "Failed to reach off-chain storage. Please try again.",
	ContractRejected:    "Transaction failed. The smart contract rejected this action.",
	PreparationFailed:   "Could not prepare the petition for submission. Please try again.",
	UnknownEnumValue:    "This petition uses a value this app does not recognise.",
	NormalizationFailed: "This petition's details could not be loaded.",
	UnknownError:        "An unexpected error occurred.",
}

// Message returns the default user-facing text for the kind.
func (k Kind) Message() string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return kindMessages[UnknownError]
}

// Kinds lists every kind in classification order.
func Kinds() []Kind {
	return []Kind{
		UserCancelled,
		Throttled,
		DuplicateAction,
		WindowClosed,
		InsufficientFunds,
		NetworkError,
		StorageError,
		ContractRejected,
		PreparationFailed,
		UnknownEnumValue,
		NormalizationFailed,
		UnknownError,
	}
}
