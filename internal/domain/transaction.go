package domain

import (
	"time"
)

// Transaction represents an incoming card transaction to be scored.
type Transaction struct {
	// Core identifiers
	ID     string `json:"transactionId"`
	CardID string `json:"cardId"`

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	CardType string  `json:"cardType,omitempty"`

	// Merchant details
	MerchantID       string `json:"merchantId,omitempty"`
	MerchantName     string `json:"merchantName,omitempty"`
	MerchantCategory string `json:"merchantCategory,omitempty"`
	MerchantCountry  string `json:"merchantCountry,omitempty"`

	// Geolocation (optional; absence is itself a risk signal)
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	// Network details (optional)
	IPAddress string `json:"ipAddress,omitempty"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// HasLocation reports whether both coordinates are present.
func (t *Transaction) HasLocation() bool {
	return t.Latitude != nil && t.Longitude != nil
}

// TransactionRequest is the API request payload for fraud scoring.
type TransactionRequest struct {
	TransactionID    string                 `json:"transactionId"`
	CardID           string                 `json:"cardId" validate:"required"`
	Amount           float64                `json:"amount" validate:"required,gt=0"`
	Currency         string                 `json:"currency,omitempty"`
	CardType         string                 `json:"cardType,omitempty"`
	MerchantID       string                 `json:"merchantId,omitempty"`
	MerchantName     string                 `json:"merchantName,omitempty"`
	MerchantCategory string                 `json:"merchantCategory,omitempty"`
	MerchantCountry  string                 `json:"merchantCountry,omitempty"`
	Latitude         *float64               `json:"latitude,omitempty"`
	Longitude        *float64               `json:"longitude,omitempty"`
	IPAddress        string                 `json:"ipAddress,omitempty"`
	Timestamp        time.Time              `json:"timestamp,omitzero"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ToTransaction converts a request to a Transaction domain object.
// A missing timestamp is kept as the zero time so the time-pattern rule
// can flag it; CreatedAt records ingest time regardless.
func (r *TransactionRequest) ToTransaction() *Transaction {
	return &Transaction{
		ID:               r.TransactionID,
		CardID:           r.CardID,
		Amount:           r.Amount,
		Currency:         r.Currency,
		CardType:         r.CardType,
		MerchantID:       r.MerchantID,
		MerchantName:     r.MerchantName,
		MerchantCategory: r.MerchantCategory,
		MerchantCountry:  r.MerchantCountry,
		Latitude:         r.Latitude,
		Longitude:        r.Longitude,
		IPAddress:        r.IPAddress,
		Timestamp:        r.Timestamp,
		CreatedAt:        time.Now().UTC(),
		Metadata:         r.Metadata,
	}
}

// LabeledTransaction pairs a transaction with its fraud label for training.
type LabeledTransaction struct {
	Transaction
	IsFraud bool `json:"isFraud"`
}
