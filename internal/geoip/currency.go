package geoip

// GeoLite2 City carries no currency, so it is derived from the country.
var currencies = map[string]string{
	"AE": "AED", "AR": "ARS", "AT": "EUR", "AU": "AUD", "BE": "EUR",
	"BG": "BGN", "BR": "BRL", "CA": "CAD", "CH": "CHF", "CL": "CLP",
	"CN": "CNY", "CO": "COP", "CY": "EUR", "CZ": "CZK", "DE": "EUR",
	"DK": "DKK", "EE": "EUR", "EG": "EGP", "ES": "EUR", "FI": "EUR",
	"FR": "EUR", "GB": "GBP", "GR": "EUR", "HK": "HKD", "HR": "EUR",
	"HU": "HUF", "ID": "IDR", "IE": "EUR", "IL": "ILS", "IN": "INR",
	"IS": "ISK", "IT": "EUR", "JP": "JPY", "KE": "KES", "KR": "KRW",
	"LT": "EUR", "LU": "EUR", "LV": "EUR", "MA": "MAD", "MT": "EUR",
	"MX": "MXN", "MY": "MYR", "NG": "NGN", "NL": "EUR", "NO": "NOK",
	"NZ": "NZD", "PE": "PEN", "PH": "PHP", "PK": "PKR", "PL": "PLN",
	"PT": "EUR", "RO": "RON", "RS": "RSD", "SA": "SAR", "SE": "SEK",
	"SG": "SGD", "SI": "EUR", "SK": "EUR", "TH": "THB", "TR": "TRY",
	"TW": "TWD", "UA": "UAH", "US": "USD", "VN": "VND", "ZA": "ZAR",
}

// CurrencyFor returns the ISO 4217 code used in a country, or "".
func CurrencyFor(isoCode string) string {
	return currencies[isoCode]
}
