package models

import (
	"encoding/json"
	"time"
)

// Transfer statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Credit history directions.
const (
	DirectionCredited = "credited"
	DirectionDebited  = "debited"
)

// User is a wallet account holder. Balance is in minor currency units.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	UserName     string    `json:"user_name"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PhoneNumber  string    `json:"phone_number"`
	Age          int       `json:"age"`
	ImageURL     string    `json:"image_url"`
	IsVerified   bool      `json:"is_verified"`
	Balance      int64     `json:"balance"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Transfer is the immutable record of a completed balance movement.
// Sender and recipient are equal only for top-ups.
type Transfer struct {
	ID                    int64     `json:"id"`
	SenderID              string    `json:"sender_id"`
	RecipientID           string    `json:"recipient_id"`
	Amount                int64     `json:"amount"`
	Message               string    `json:"message,omitempty"`
	Status                string    `json:"status"`
	BalanceAfterSender    int64     `json:"balance_after_sender"`
	BalanceAfterRecipient int64     `json:"balance_after_recipient"`
	ProcessedAt           time.Time `json:"processed_at"`
}

// CreditEntry is one leg of a transfer's conservation pair, or the single
// credited leg of a top-up.
type CreditEntry struct {
	ID             int64     `json:"id"`
	TransferID     int64     `json:"transfer_id"`
	UserID         string    `json:"user_id"`
	CounterpartyID string    `json:"counterparty_id"`
	Direction      string    `json:"direction"`
	Amount         int64     `json:"amount"`
	IsTopUp        bool      `json:"is_top_up"`
	CreatedAt      time.Time `json:"created_at"`
}

// TransferRequest is the payload from the client. The sender is taken from
// the authenticated caller context, never from the body.
type TransferRequest struct {
	RecipientID string `json:"recipient_id" validate:"required,uuid4"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Message     string `json:"message" validate:"max=280"`
}

// TopUpRequest credits the caller's own balance.
type TopUpRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

// TransferResponse is the canonical response structure.
type TransferResponse struct {
	Transfer Transfer      `json:"transfer"`
	Entries  []CreditEntry `json:"entries"`
}

// SupportMessage is an append-only contact-form record.
type SupportMessage struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// IdempotencyRecord holds the state of a request key.
type IdempotencyRecord struct {
	Key            string
	RequestHash    string
	Status         string
	ResponseBody   json.RawMessage
	ResponseStatus int
}
