package ledger

import "errors"

// Error taxonomy shared by every ledger. Operations wrap these with context;
// callers match with errors.Is.
var (
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrAlreadyConsumed       = errors.New("already consumed")
	ErrInvalidDestination    = errors.New("invalid destination")
	ErrNotOwner              = errors.New("not owner")
	ErrNotStaked             = errors.New("not staked")
	ErrAlreadyStaked         = errors.New("already staked")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrNotFound              = errors.New("not found")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidSignature, "invalid_signature"},
	{ErrAlreadyConsumed, "already_consumed"},
	{ErrInvalidDestination, "invalid_destination"},
	{ErrNotOwner, "not_owner"},
	{ErrNotStaked, "not_staked"},
	{ErrAlreadyStaked, "already_staked"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrInsufficientAllowance, "insufficient_allowance"},
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrNotFound, "not_found"},
}

// Kind returns the stable identifier of the taxonomy error wrapped by err,
// or "internal" when err is not one of them. Off-chain tooling keys on it.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
