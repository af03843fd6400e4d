package models

// ActionResponse reports the outcome of a write action
type ActionResponse struct {
	Status  string `json:"status"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
	TxID    string `json:"txId,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// ActionPayload carries the identifiers produced by an action
type ActionPayload struct {
	ID         string `json:"id"`
	PetitionID string `json:"petitionId,omitempty"`
	TokenID    string `json:"tokenId,omitempty"`
}

// SignersResponse lists the signatures of one petition
type SignersResponse struct {
	PetitionID string   `json:"petitionId"`
	Signers    []Signer `json:"signers"`
	Total      int      `json:"total"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Code    int    `json:"code"`
}
