package models

// Category is the display label of a petition category
type Category string

// Categories in contract code order. The index is the on-chain value.
var Categories = []Category{
	"SOCIAL",
	"POLITICAL",
	"ENVIRONMENTAL",
	"EDUCATION",
	"HEALTH",
	"HUMAN_RIGHTS",
	"ANIMAL_RIGHTS",
	"ECONOMIC",
	"TECHNOLOGY",
	"CULTURAL",
	"OTHER",
}

// CategoryFromCode maps an on-chain category code to its label
func CategoryFromCode(code uint64) (Category, bool) {
	if code >= uint64(len(Categories)) {
		return "", false
	}
	return Categories[code], true
}

// CategoryCode returns the on-chain code for a label
func CategoryCode(c Category) (uint8, bool) {
	for i, v := range Categories {
		if v == c {
			return uint8(i), true
		}
	}
	return 0, false
}

// State is the lifecycle label of a petition
type State string

const (
	StatePublished State = "PUBLISHED"
	StateCompleted State = "COMPLETED"
	StateCancelled State = "CANCELLED"

	// StateDraft exists in the domain vocabulary but the contract never reports it.
	StateDraft State = "DRAFT"
)

// States in contract code order
var States = []State{
	StatePublished,
	StateCompleted,
	StateCancelled,
}

// StateFromCode maps an on-chain status code to its label
func StateFromCode(code uint64) (State, bool) {
	if code >= uint64(len(States)) {
		return "", false
	}
	return States[code], true
}
