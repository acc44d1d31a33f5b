package domain

import (
	"encoding/json"
	"time"
)

// Role distinguishes accounts that spend tokens from accounts that earn them.
type Role string

const (
	RoleRequester Role = "requester"
	RoleArtist    Role = "artist"
)

// Account holds a user's spendable token balance. Balances are mutated only
// through the ledger service, never written directly.
type Account struct {
	ID          int64     `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	Balance     int64     `json:"balance"`
	CreatedAt   time.Time `json:"created_at"`

	// EarnedBalance is present only for artist accounts (1:1 profile row).
	EarnedBalance *int64 `json:"earned_balance,omitempty"`
}

// TxType classifies a ledger movement.
type TxType string

const (
	TxPurchase   TxType = "purchase"   // provider credit, no sender
	TxGrant      TxType = "grant"      // system credit (signup bonus), no sender
	TxGeneration TxType = "generation" // requester debit, artist earned credit
	TxRefund     TxType = "refund"     // inverse of a generation debit
)

// Transaction is an immutable ledger entry. Rows are append-only; the single
// exception is the Refunded flag, flipped once when an inverse row is written.
type Transaction struct {
	ID             int64     `json:"id"`
	SenderID       *int64    `json:"sender_id,omitempty"`
	ReceiverID     *int64    `json:"receiver_id,omitempty"`
	Amount         int64     `json:"amount"`
	Type           TxType    `json:"type"`
	Status         string    `json:"status"`
	RelatedStyleID *int64    `json:"related_style_id,omitempty"`
	RelatedJobID   *int64    `json:"related_job_id,omitempty"`
	Memo           string    `json:"memo,omitempty"`
	Refunded       bool      `json:"refunded"`
	CreatedAt      time.Time `json:"created_at"`
}

// Style is a learned visual style owned by an artist. Jobs reference styles
// with ON DELETE RESTRICT, so a style cannot vanish under a live job.
type Style struct {
	ID             int64           `json:"id"`
	ArtistID       int64           `json:"artist_id"`
	Name           string          `json:"name"`
	GenerationCost int64           `json:"generation_cost"`
	TrainingStatus StyleStatus     `json:"training_status"`
	ModelRef       string          `json:"model_ref,omitempty"`
	Progress       json.RawMessage `json:"training_progress,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Purchase records one prepaid token order. ProviderPaymentKey is the
// natural idempotency key for payment-provider webhook deliveries and is
// unique at the storage layer.
type Purchase struct {
	ID                 int64      `json:"id"`
	BuyerID            int64      `json:"buyer_id"`
	AmountTokens       int64      `json:"amount_tokens"`
	PricePerToken      string     `json:"price_per_token"`
	Provider           string     `json:"provider"`
	ProviderPaymentKey *string    `json:"provider_payment_key,omitempty"`
	ProviderOrderRef   string     `json:"provider_order_ref"`
	Status             string     `json:"status"` // pending | paid
	ApprovedAt         *time.Time `json:"approved_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

const (
	PurchasePending = "pending"
	PurchasePaid    = "paid"
)

// GenerationJob ties one token debit to one externally executed unit of work.
type GenerationJob struct {
	ID             int64           `json:"id"`
	RequesterID    int64           `json:"requester_id"`
	StyleID        int64           `json:"style_id"`
	AspectRatio    string          `json:"aspect_ratio"`
	ConsumedTokens int64           `json:"consumed_tokens"`
	Status         JobStatus       `json:"status"`
	ResultRef      string          `json:"result_ref,omitempty"`
	Progress       json.RawMessage `json:"progress,omitempty"`
	DebitTxID      int64           `json:"debit_tx_id"`
	ErrorCode      string          `json:"error_code,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// Notification is a best-effort side-channel record; losing one is acceptable.
type Notification struct {
	ID          int64     `json:"id"`
	RecipientID int64     `json:"recipient_id"`
	ActorID     *int64    `json:"actor_id,omitempty"`
	Kind        string    `json:"kind"`
	TargetType  string    `json:"target_type"`
	TargetID    int64     `json:"target_id"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notification kinds emitted by ledger/job transitions.
const (
	NotifyGenerationComplete = "generation_complete"
	NotifyGenerationFailed   = "generation_failed"
	NotifyTrainingComplete   = "style_training_complete"
	NotifyTrainingFailed     = "style_training_failed"
	NotifyPurchasePaid       = "purchase_paid"
)

// DriftReport is the outcome of recomputing an account's balances from the
// transaction log. Drift never blocks live traffic; it feeds an ops alert.
type DriftReport struct {
	AccountID       int64 `json:"account_id"`
	Balance         int64 `json:"balance"`
	ExpectedBalance int64 `json:"expected_balance"`
	Earned          int64 `json:"earned_balance"`
	ExpectedEarned  int64 `json:"expected_earned_balance"`
	Drift           bool  `json:"drift"`
}
