// Package oracle provides token balance lookups for member wallets.
package oracle

import "context"

// Oracle reports the GGRD token balance held by a wallet. Callers in
// settlement passes treat any error as a zero balance for that member
// rather than aborting the pass.
type Oracle interface {
	TokenBalance(ctx context.Context, wallet string) (float64, error)
}
