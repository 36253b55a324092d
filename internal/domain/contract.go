package domain

// ContractSpec holds exchange metadata for one tradable symbol.
// Fetched from the gateway and cached per symbol.
type ContractSpec struct {
	Symbol             string
	PricePrecision     int     // decimal places allowed in prices
	QuantityPrecision  int     // decimal places allowed in quantities
	MinQuantity        float64 // smallest order quantity the exchange accepts
	MinNotional        float64 // smallest quantity × price the exchange accepts
	ContractMultiplier float64 // 1 for linear USDT contracts
}
