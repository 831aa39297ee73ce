package crawler

import (
	"math"
	"net/url"
	"strings"
	"time"
)

// documentTypeRule scores one document-type label against URL, filename,
// and text evidence.
type documentTypeRule struct {
	label    string
	keywords []string
	weight   float64
}

// documentTypeRules is the declarative document-type table. Order does not
// matter; the highest score wins.
var documentTypeRules = []documentTypeRule{
	{
		label: "PDS",
		keywords: []string{
			"pds", "product disclosure", "product-disclosure", "productdisclosure",
			"combined fsg", "financial services guide",
		},
		weight: 1.0,
	},
	{
		label: "Policy Wording",
		keywords: []string{
			"policy wording", "policy-wording", "policywording", "wording",
			"policy document", "policy schedule", "terms and conditions",
			"conditions of cover", "cover wording",
		},
		weight: 0.9,
	},
	{
		label: "Fact Sheet",
		keywords: []string{
			"fact sheet", "fact-sheet", "factsheet", "key facts", "keyfacts",
			"key information", "summary of cover", "cover summary",
		},
		weight: 0.85,
	},
	{
		label: "TMD",
		keywords: []string{
			"tmd", "target market", "target-market", "targetmarket",
			"target market determination",
		},
		weight: 0.9,
	},
	{
		label: "Product Guide",
		keywords: []string{
			"product guide", "product-guide", "productguide", "guide",
			"brochure", "overview",
		},
		weight: 0.7,
	},
	{
		label: "Certificate of Insurance",
		keywords: []string{
			"certificate of insurance", "certificate-of-insurance",
			"coi", "proof of insurance",
		},
		weight: 0.85,
	},
	{
		label: "Claim Form",
		keywords: []string{
			"claim form", "claim-form", "claimform", "claims form",
			"make a claim", "lodge a claim",
		},
		weight: 0.8,
	},
}

// policyCategoryRules maps an insurance product line to its keywords.
var policyCategoryRules = map[string][]string{
	"Motor": {
		"motor", "vehicle", "car", "auto", "comprehensive",
		"third party", "tpft", "third-party", "automotive",
	},
	"Home": {
		"home", "house", "property", "building", "dwelling",
		"homeowner", "home-owner", "residential",
	},
	"Contents": {
		"contents", "contents plus", "contents-plus", "personal belongings",
		"household contents", "valuables",
	},
	"Landlord": {
		"landlord", "rental", "rental property", "investment property", "landlords",
	},
	"Travel": {
		"travel", "trip", "overseas", "holiday", "international",
	},
	"Life": {
		"life", "lif", "living", "death", "tpd",
		"income protection", "trauma", "funeral",
	},
	"Health": {
		"health", "medical", "hospital", "dental", "optical",
		"surgical", "wellness",
	},
	"Business": {
		"business", "commercial", "liability", "sme",
		"professional indemnity", "public liability", "trade",
	},
	"Pet": {
		"pet", "dog", "cat", "animal", "puppy", "kitten",
		"pet insurance", "pet-insurance", "veterinary", "vet cover",
		"vet insurance", "companion animal", "canine", "feline",
		"pet health", "pet care", "pet plan", "animal cover",
		"pet policy", "dog insurance", "cat insurance", "vet fees",
		"pet medical", "pet accident", "pet illness",
	},
	"Marine": {
		"marine", "boat", "watercraft", "yacht", "vessel",
	},
}

// knownInsurers maps domain fragments to curated insurer names.
var knownInsurers = map[string]string{
	"aainsurance":    "AA Insurance",
	"aa-insurance":   "AA Insurance",
	"ami":            "AMI Insurance",
	"tower":          "Tower Insurance",
	"state":          "State Insurance",
	"aia":            "AIA New Zealand",
	"southern-cross": "Southern Cross",
	"southerncross":  "Southern Cross",
	"partners-life":  "Partners Life",
	"partnerslife":   "Partners Life",
	"nib":            "nib Insurance",
	"fidelity":       "Fidelity Life",
	"cigna":          "Cigna Insurance",
	"asteron":        "Asteron Life",
	"suncorp":        "Suncorp",
	"iag":            "IAG",
	"vero":           "Vero Insurance",
	"chubb":          "Chubb Insurance",
	"allianz":        "Allianz",
	"zurich":         "Zurich Insurance",
	"qbe":            "QBE Insurance",
	"initio":         "Initio Insurance",
	"ando":           "Ando Insurance",
	"youi":           "Youi Insurance",
	"trade-me":       "Trade Me Insurance",
	"trademe":        "Trade Me Insurance",
	"pinnacle":       "Pinnacle Life",
	"accuro":         "Accuro Health Insurance",
}

// Review-status thresholds.
const (
	autoApproveThreshold = 0.85
	needsReviewThreshold = 0.5
)

// ClassifyInput carries everything the classifier may consider.
type ClassifyInput struct {
	URL        string
	Filename   string
	PolicyType string // declared by the candidate filter; fallback only
	FileSize   int64
	TextSample string // optional extracted text, may be empty
}

// ClassificationResult is the classifier verdict plus provenance metadata.
type ClassificationResult struct {
	Classification string
	Confidence     float64
	Status         DocumentStatus
	Warnings       []string
	InsurerName    string
	MatchedSource  string
	PolicyType     string
	Metadata       map[string]any
}

// ClassifyDocument scores the document-type and policy-category rule tables
// against URL, filename, and optional text sample. It is a pure function of
// its inputs; now is only recorded in the metadata.
func ClassifyDocument(in ClassifyInput, now time.Time) ClassificationResult {
	urlLower := strings.ToLower(in.URL)
	nameLower := strings.ToLower(in.Filename)
	textLower := strings.ToLower(in.TextSample)
	combined := urlLower + " " + nameLower
	if textLower != "" {
		combined += " " + textLower
	}

	classification := "Unclassified"
	matchedSource := ""
	var warnings []string

	// Stage 1: document type. Small additive boosts for where the keyword
	// matched, text evidence weighted highest.
	bestTypeScore := 0.0
	for _, rule := range documentTypeRules {
		for _, kw := range rule.keywords {
			if !strings.Contains(combined, kw) {
				continue
			}
			score := rule.weight
			if strings.Contains(urlLower, kw) {
				score += 0.05
			}
			if strings.Contains(nameLower, kw) {
				score += 0.05
			}
			if textLower != "" && strings.Contains(textLower, kw) {
				score += 0.1
			}
			if score > bestTypeScore {
				bestTypeScore = score
				classification = rule.label
				matchedSource = "matched '" + kw + "'"
			}
		}
	}

	// Stage 2: policy category with differentiated weights. Multi-word
	// keywords and filename matches carry more signal than URL or text.
	detectedPolicy := in.PolicyType
	bestCatScore := 0
	for category, keywords := range policyCategoryRules {
		score := 0
		for _, kw := range keywords {
			multiword := strings.ContainsAny(kw, " -")
			if strings.Contains(urlLower, kw) {
				score += weightFor(multiword, 4, 2)
			}
			if strings.Contains(nameLower, kw) {
				score += weightFor(multiword, 6, 3)
			}
			if textLower != "" && strings.Contains(textLower, kw) {
				score += weightFor(multiword, 3, 1)
			}
		}
		// Pet was historically under-detected against broader categories.
		if category == "Pet" && score > 0 {
			score = int(float64(score) * 1.2)
		}
		if score > bestCatScore {
			bestCatScore = score
			detectedPolicy = category
		}
	}

	// Stage 3: confidence.
	var confidence float64
	switch {
	case bestTypeScore > 0:
		if bestCatScore > 0 {
			bestTypeScore += 0.05
		}
		confidence = math.Min(bestTypeScore, 1.0)
	case bestCatScore > 0:
		confidence = math.Min(0.4+float64(bestCatScore)*0.05, 0.7)
		classification = "General Document"
		warnings = append(warnings, "Document type unclear; policy category detected from filename/text")
	case strings.Contains(urlLower, ".pdf") || strings.Contains(nameLower, ".pdf"):
		confidence = 0.3
		classification = "General Document"
		warnings = append(warnings, "No classification keyword match")
	default:
		confidence = 0.1
		classification = "Unknown"
		warnings = append(warnings, "Unable to classify")
	}

	// Stage 4: file size adjustments.
	switch {
	case in.FileSize > 0 && in.FileSize < 10_000:
		confidence *= 0.5
		warnings = append(warnings, "Very small file")
	case in.FileSize > 0 && in.FileSize < 50_000:
		confidence *= 0.8
		warnings = append(warnings, "Small file size")
	case in.FileSize > 20_000_000:
		confidence *= 0.9
		warnings = append(warnings, "Very large file")
	}

	// Stage 5: review status.
	var status DocumentStatus
	switch {
	case confidence >= autoApproveThreshold:
		status = DocAutoApproved
	case confidence >= needsReviewThreshold:
		status = DocNeedsReview
		warnings = append(warnings, "Low confidence; manual review recommended")
	default:
		status = DocNeedsReview
		warnings = append(warnings, "Very low confidence; requires manual review")
	}

	if detectedPolicy == "" {
		detectedPolicy = "General"
	}
	domain := domainOf(in.URL)

	return ClassificationResult{
		Classification: classification,
		Confidence:     round2(confidence),
		Status:         status,
		Warnings:       warnings,
		InsurerName:    KnownInsurerName(domain),
		MatchedSource:  matchedSource,
		PolicyType:     detectedPolicy,
		Metadata: map[string]any{
			"classified_at":         now.Format(time.RFC3339),
			"classification_method": "rule-based-v2",
			"url_domain":            domain,
			"file_size":             in.FileSize,
			"policy_type":           detectedPolicy,
		},
	}
}

// KnownInsurerName looks a host up in the curated insurer table, returning
// "" when unknown.
func KnownInsurerName(domain string) string {
	base, _, _ := strings.Cut(domain, ".")
	for pattern, name := range knownInsurers {
		if strings.Contains(base, pattern) || strings.Contains(domain, pattern) {
			return name
		}
	}
	return ""
}

func domainOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}

func weightFor(multiword bool, multi, single int) int {
	if multiword {
		return multi
	}
	return single
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
