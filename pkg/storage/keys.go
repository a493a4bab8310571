package storage

import "fmt"

// Key schema:
//   ord:<orderID>            → Order
//   bal:<clientID>:<assetID> → AssetBalance
const (
	prefixOrder   = "ord:"
	prefixBalance = "bal:"
)

func orderKey(orderID string) []byte {
	return []byte(prefixOrder + orderID)
}

func balanceKey(clientID, assetID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, clientID, assetID))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
