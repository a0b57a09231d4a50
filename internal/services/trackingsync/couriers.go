package trackingsync

import "strings"

// courierFor maps a ShipStation carrier code onto the marketplace's courier
// enum. Unknown carriers fall back to USPS, which is what the marketplace
// assumes for unlabelled domestic mail.
func courierFor(carrierCode string) string {
	code := strings.ToLower(carrierCode)
	switch {
	case code == "stamps_com" || code == "usps":
		return "USPS"
	case code == "ups" || strings.HasPrefix(code, "ups_"):
		return "UPS"
	case code == "fedex":
		return "FEDEX"
	case strings.HasPrefix(code, "dhl"):
		return "DHL"
	default:
		return "USPS"
	}
}
