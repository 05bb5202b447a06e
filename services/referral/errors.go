package referral

import "errors"

// Policy errors: the input was well-formed but a business rule rejects it.
var (
	ErrSelfReferral             = errors.New("users cannot refer themselves")
	ErrReferralsDisabled        = errors.New("referrals are disabled for this business")
	ErrDuplicatePendingReferral = errors.New("a pending referral to this email already exists")
)

// State errors: the referral exists but is not in a state the operation
// accepts. Callers in the feedback flow treat these as "referral not
// applicable" and carry on with their own work.
var (
	ErrReferralNotFound   = errors.New("referral not found")
	ErrReferralNotPending = errors.New("referral is no longer pending")
	ErrReferralExpired    = errors.New("referral has expired")
)

// Validation and infrastructure errors.
var (
	ErrInvalidEmail        = errors.New("referred email is not a valid address")
	ErrGenerationExhausted = errors.New("could not generate an unused referral code")
)
