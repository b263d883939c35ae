package pihole

type authResponse struct {
	Session struct {
		Valid bool   `json:"valid"`
		SID   string `json:"sid"`
	} `json:"session"`
}

// summaryResponse accepts both the flat legacy counters and the nested v6 layout
type summaryResponse struct {
	DNSQueriesToday int64 `json:"dns_queries_today"`
	AdsBlockedToday int64 `json:"ads_blocked_today"`
	UniqueClients   int64 `json:"unique_clients"`

	Queries *struct {
		Total   int64 `json:"total"`
		Blocked int64 `json:"blocked"`
	} `json:"queries"`
	Clients *struct {
		Active int64 `json:"active"`
	} `json:"clients"`
}

func (r *summaryResponse) summary() *Summary {
	s := &Summary{
		Queries: r.DNSQueriesToday,
		Blocked: r.AdsBlockedToday,
		Clients: r.UniqueClients,
	}
	if r.Queries != nil && s.Queries == 0 {
		s.Queries = r.Queries.Total
		s.Blocked = r.Queries.Blocked
	}
	if r.Clients != nil && s.Clients == 0 {
		s.Clients = r.Clients.Active
	}
	return s
}

type configResponse struct {
	Config struct {
		DHCP struct {
			Active bool `json:"active"`
		} `json:"dhcp"`
	} `json:"config"`
}

// countLeases finds the lease collection in any of the shapes Pi-hole
// versions have returned: {"leases": [...]}, {"leases": {...}},
// {"dhcp": {"leases": ...}}, {"data": [...]} or a bare list
func countLeases(raw interface{}) int {
	switch v := raw.(type) {
	case []interface{}:
		return len(v)
	case map[string]interface{}:
		if n, ok := collectionLen(v["leases"]); ok {
			return n
		}
		if dhcp, ok := v["dhcp"].(map[string]interface{}); ok {
			if n, ok := collectionLen(dhcp["leases"]); ok {
				return n
			}
		}
		if data, ok := v["data"].([]interface{}); ok {
			return len(data)
		}
	}
	return 0
}

func collectionLen(v interface{}) (int, bool) {
	switch c := v.(type) {
	case []interface{}:
		return len(c), len(c) > 0
	case map[string]interface{}:
		return len(c), len(c) > 0
	}
	return 0, false
}
