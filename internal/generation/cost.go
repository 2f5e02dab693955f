package generation

import (
	"math"
	"time"
)

const (
	// LocalUSDPerSecond is the accelerator cost of one second of wall time.
	LocalUSDPerSecond = 0.001097
	// VendorUSDPerFiveSeconds is the list price of five seconds of vendor
	// output.
	VendorUSDPerFiveSeconds = 0.10
)

// LocalCost estimates the cost of a local run from its wall time.
func LocalCost(elapsed time.Duration) float64 {
	return roundMicro(elapsed.Seconds() * LocalUSDPerSecond)
}

// VendorCost estimates the cost of a vendor clip from its length.
func VendorCost(clip time.Duration) float64 {
	return roundMicro(clip.Seconds() / 5 * VendorUSDPerFiveSeconds)
}

// roundMicro keeps six decimals.
func roundMicro(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
