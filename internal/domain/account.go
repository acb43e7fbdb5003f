package domain

// Balance is an account's position in a single market. Collateral is in
// cents, shares are whole units.
type Balance struct {
	AccountID string `json:"account_id"`
	Free      int64  `json:"free"`
	Reserved  int64  `json:"reserved"`
	Yes       int64  `json:"yes"`
	No        int64  `json:"no"`
}

// Collateral returns free plus reserved collateral.
func (b Balance) Collateral() int64 {
	return b.Free + b.Reserved
}

// Shares returns the number of shares held on the given side.
func (b Balance) Shares(s Side) int64 {
	if s == SideYes {
		return b.Yes
	}
	return b.No
}
