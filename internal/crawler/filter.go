package crawler

import "strings"

// policyTypeKeywords maps a requested policy-type filter to the URL keywords
// that indicate it. Filters infer the policy type used downstream; they
// never exclude a PDF outright.
var policyTypeKeywords = map[string][]string{
	"life":     {"life", "lif", "living", "death", "tpd", "income protection", "trauma"},
	"home":     {"home", "house", "property", "building", "landlord", "rental", "dwelling"},
	"contents": {"contents", "contents plus", "personal belongings", "valuables", "household contents"},
	"motor":    {"motor", "vehicle", "car", "auto", "comprehensive", "third party", "tpft"},
	"travel":   {"travel", "trip", "overseas", "holiday", "international"},
	"health":   {"health", "medical", "hospital", "dental", "optical"},
	"business": {"business", "commercial", "liability", "sme", "professional indemnity", "public liability"},
	"pet":      {"pet", "dog", "cat", "animal"},
	"marine":   {"marine", "boat", "watercraft", "yacht"},
}

// FilterCandidate decides whether a discovered URL is accepted and which
// policy type it appears to belong to. Acceptance order: a requested
// policy-type keyword group, then a free-text keyword filter, then the
// plain-PDF fallback. Final classification happens after download.
func FilterCandidate(rawURL string, keywordFilters, policyTypes []string) (bool, string) {
	urlLower := strings.ToLower(rawURL)

	for _, pt := range policyTypes {
		keywords, ok := policyTypeKeywords[strings.ToLower(pt)]
		if !ok {
			keywords = []string{strings.ToLower(pt)}
		}
		for _, kw := range keywords {
			if strings.Contains(urlLower, kw) {
				return true, pt
			}
		}
	}

	for _, kw := range keywordFilters {
		if kw != "" && strings.Contains(urlLower, strings.ToLower(kw)) {
			return true, "General"
		}
	}

	if IsPDFURL(rawURL) {
		return true, "General"
	}
	return false, ""
}
