package core

import "github.com/cockroachdb/errors"

// Error kinds. Every precondition violation aborts the whole call with no
// state change; callers match kinds with errors.Is.
var (
	ErrNativeAssetNotAllowed       = errors.New("native asset not allowed on token path")
	ErrInsufficientBalance         = errors.New("insufficient balance")
	ErrInsufficientExternalBalance = errors.New("insufficient tokens")
	ErrInsufficientAllowance       = errors.New("insufficient allowance")
	ErrOrderNotFound               = errors.New("order does not exist")
	ErrNotOrderOwner               = errors.New("order is not yours")
	ErrOrderAlreadyFinalized       = errors.New("order is already filled or cancelled")

	ErrAmountOverflow     = errors.New("amount overflow")
	ErrInvalidFeePercent  = errors.New("fee percent must be between 0 and 100")
	ErrExternalCallFailed = errors.New("external asset call failed")
	ErrHalted             = errors.New("exchange halted")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNativeAssetNotAllowed, "NativeAssetNotAllowed"},
	{ErrInsufficientExternalBalance, "InsufficientExternalBalance"},
	{ErrInsufficientAllowance, "InsufficientAllowance"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrOrderNotFound, "OrderNotFound"},
	{ErrNotOrderOwner, "NotOrderOwner"},
	{ErrOrderAlreadyFinalized, "OrderAlreadyFinalized"},
	{ErrAmountOverflow, "AmountOverflow"},
	{ErrInvalidFeePercent, "InvalidFeePercent"},
	{ErrHalted, "Halted"},
	{ErrExternalCallFailed, "ExternalCallFailed"},
}

// KindOf returns the stable name of the first error kind err matches, or
// "Internal" when it matches none.
func KindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
