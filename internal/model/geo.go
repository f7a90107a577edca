package model

// GeoLocation is the coarse location/ISP data resolved for one IP.
// A nil *GeoLocation always means "unknown location", never an error.
type GeoLocation struct {
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	Region      string `json:"region"`
	City        string `json:"city"`
	Timezone    string `json:"timezone"`
	ISP         string `json:"isp"`
	Org         string `json:"org"`
	AS          string `json:"as"`
}

// SuspiciousIP is derived per summary call and never stored.
type SuspiciousIP struct {
	IP              string `json:"ip"`
	Requests        int64  `json:"requests"`
	Errors          int64  `json:"errors"`
	ErrorRate       string `json:"error_rate"`
	UniqueEndpoints int64  `json:"unique_endpoints"`

	// Filled by geo enrichment.
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	City        string `json:"city,omitempty"`
	ISP         string `json:"isp,omitempty"`
	IsHosting   bool   `json:"is_hosting"`
	RiskScore   int    `json:"risk_score"`
}

type CountryStat struct {
	Country      string `json:"country"`
	CountryCode  string `json:"country_code"`
	RequestCount int64  `json:"request_count"`
	UniqueIPs    int    `json:"unique_ips"`
}

type CityStat struct {
	City         string `json:"city"`
	Country      string `json:"country"`
	CountryCode  string `json:"country_code"`
	RequestCount int64  `json:"request_count"`
	UniqueIPs    int    `json:"unique_ips"`
}
