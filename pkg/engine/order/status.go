package order

// Status is the order state machine. An order reaches a terminal status
// exactly once; business rejections are terminal statuses carried in results,
// never errors.
type Status string

const (
	StatusPlaced      Status = "Placed"
	StatusPending     Status = "Pending" // stop order waiting for its trigger
	StatusInOrderBook Status = "InOrderBook"
	StatusProcessing  Status = "Processing" // partially matched, still resting
	StatusMatched     Status = "Matched"
	StatusCancelled   Status = "Cancelled"
	StatusReplaced    Status = "Replaced"
	StatusExpired     Status = "Expired"

	StatusNoLiquidity                      Status = "NoLiquidity"
	StatusNotEnoughFunds                   Status = "NotEnoughFunds"
	StatusReservedVolumeGreaterThanBalance Status = "ReservedVolumeGreaterThanBalance"
	StatusLeadToNegativeSpread             Status = "LeadToNegativeSpread"
	StatusInvalidPrice                     Status = "InvalidPrice"
	StatusInvalidPriceAccuracy             Status = "InvalidPriceAccuracy"
	StatusInvalidVolume                    Status = "InvalidVolume"
	StatusInvalidVolumeAccuracy            Status = "InvalidVolumeAccuracy"
	StatusInvalidValue                     Status = "InvalidValue"
	StatusTooSmallVolume                   Status = "TooSmallVolume"
	StatusTooHighPriceDeviation            Status = "TooHighPriceDeviation"
	StatusDisabledAsset                    Status = "DisabledAsset"
	StatusUnknownAsset                     Status = "UnknownAsset"
)

// Rejected reports whether s is a business rejection.
func (s Status) Rejected() bool {
	switch s {
	case StatusNoLiquidity, StatusNotEnoughFunds, StatusReservedVolumeGreaterThanBalance,
		StatusLeadToNegativeSpread, StatusInvalidPrice, StatusInvalidPriceAccuracy,
		StatusInvalidVolume, StatusInvalidVolumeAccuracy, StatusInvalidValue,
		StatusTooSmallVolume, StatusTooHighPriceDeviation, StatusDisabledAsset,
		StatusUnknownAsset:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusPlaced, StatusPending, StatusInOrderBook, StatusProcessing:
		return false
	}
	return true
}
