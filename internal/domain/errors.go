package domain

import "errors"

// Sentinel errors shared by the store and service layers. Handlers map these
// to HTTP statuses; messages always say whether tokens moved.
var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrStyleNotFound        = errors.New("style not found")
	ErrJobNotFound          = errors.New("generation job not found")
	ErrPurchaseNotFound     = errors.New("purchase not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrInsufficientBalance aborts before any mutation; nothing was charged.
	ErrInsufficientBalance = errors.New("insufficient token balance")

	// ErrAlreadyRefunded and ErrNotRefundable are integrity errors: the
	// operation aborts with zero effect.
	ErrAlreadyRefunded = errors.New("transaction already refunded")
	ErrNotRefundable   = errors.New("transaction is not refundable")

	ErrStyleNotReady     = errors.New("style training is not completed")
	ErrBadAspectRatio    = errors.New("unsupported aspect ratio")
	ErrArtistRequired    = errors.New("account is not an artist")
	ErrNonPositiveAmount = errors.New("amount must be positive")

	// ErrDispatchFailed: the work item could not be published. For a
	// generation submit the debit has already been refunded by the time the
	// caller sees this.
	ErrDispatchFailed = errors.New("failed to dispatch work item")
)
