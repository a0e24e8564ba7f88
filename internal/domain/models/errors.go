package models

import "errors"

// Sentinel errors for the oracle core. Callers are expected to branch on these
// with errors.Is so retry logic can be error-kind-aware.
var (
	// ErrNoDataAvailable means every configured source adapter failed for a symbol.
	ErrNoDataAvailable = errors.New("no data available")

	// ErrInsufficientStake means the submitting node holds less than the minimum stake.
	ErrInsufficientStake = errors.New("insufficient stake")

	// ErrMissingProof means a submission arrived without a verifiable proof.
	ErrMissingProof = errors.New("missing proof")

	// ErrDataMismatch means a submitted value deviates too far from the aggregated value.
	ErrDataMismatch = errors.New("data mismatch")

	// ErrAlreadyRegistered means the node address is already in the registry.
	ErrAlreadyRegistered = errors.New("node already registered")

	// ErrNotFound means the node or feed does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVerificationFailed means the settlement backend could not corroborate a stake change.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrOperationInProgress means a stake/unstake operation is already in flight for the node.
	ErrOperationInProgress = errors.New("operation in progress")

	// ErrTimeout means an external call exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrNotEnoughEntries means a feed has fewer entries than the consensus minimum.
	ErrNotEnoughEntries = errors.New("not enough entries for consensus")
)
