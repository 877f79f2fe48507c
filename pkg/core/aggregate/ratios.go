package aggregate

// Ratios are null-propagating: any missing input, or a denominator the
// division cannot survive, yields nil rather than a default.

// DebtToEquity returns total liabilities over total equity as a percentage.
func DebtToEquity(totalLiabilities, totalEquity *int64) *float64 {
	if totalLiabilities == nil || totalEquity == nil || *totalEquity == 0 {
		return nil
	}
	r := float64(*totalLiabilities) / float64(*totalEquity) * 100
	return &r
}

// NetCashPerShare divides net cash by the share count. Requires shares > 0.
func NetCashPerShare(netCash, shares *int64) *float64 {
	if netCash == nil || shares == nil || *shares <= 0 {
		return nil
	}
	r := float64(*netCash) / float64(*shares)
	return &r
}

// NetCashToPrice returns net cash per share as a percentage of the market
// price. Requires price > 0.
func NetCashToPrice(perShare, price *float64) *float64 {
	if perShare == nil || price == nil || *price <= 0 {
		return nil
	}
	r := *perShare / *price * 100
	return &r
}
