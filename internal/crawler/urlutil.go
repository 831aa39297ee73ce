package crawler

import (
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
)

// trackingParams lists query parameters stripped during normalization.
// Analytics and ad trackers never affect response content.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
	"gclsrc":       {},
	"dclid":        {},
	"msclkid":      {},
	"mc_cid":       {},
	"mc_eid":       {},
}

// ccTLDSuffixes holds two-label country-code suffixes. When a host ends in
// one of these, the registrable domain is the last three labels, not two.
var ccTLDSuffixes = map[string]struct{}{
	"co.nz": {}, "org.nz": {}, "net.nz": {}, "govt.nz": {}, "ac.nz": {},
	"com.au": {}, "org.au": {}, "net.au": {}, "edu.au": {}, "gov.au": {},
	"co.uk": {}, "org.uk": {}, "me.uk": {}, "net.uk": {}, "gov.uk": {},
	"co.za": {}, "org.za": {}, "co.in": {}, "com.sg": {}, "com.hk": {},
	"co.jp": {}, "com.br": {}, "co.kr": {}, "com.mx": {}, "co.id": {},
}

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// NormalizeURL canonicalizes a URL for deduplication: lowercase scheme and
// host, no fragment, no trailing slash (root keeps "/"), tracking parameters
// removed, remaining query re-encoded deterministically. It is idempotent.
func NormalizeURL(raw string, extraTracking []string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""

	if parsed.Path != "/" {
		parsed.Path = strings.TrimRight(parsed.Path, "/")
	}
	if parsed.Path == "" && parsed.Host != "" {
		parsed.Path = "/"
	}

	if parsed.RawQuery != "" {
		parsed.RawQuery = cleanQuery(parsed.Query(), extraTracking)
	}
	return parsed.String()
}

func cleanQuery(values url.Values, extraTracking []string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if isTrackingParam(k, extraTracking) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for _, v := range vs {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			if v != "" {
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
	}
	return b.String()
}

func isTrackingParam(key string, extra []string) bool {
	lower := strings.ToLower(key)
	if _, ok := trackingParams[lower]; ok {
		return true
	}
	for _, p := range extra {
		if lower == strings.ToLower(p) {
			return true
		}
	}
	return false
}

// IsPDFURL reports whether a URL looks like it serves a PDF: a .pdf path
// extension (optionally followed by /), or .pdf anywhere in the path or
// query, which covers download-redirect patterns like /file.pdf/view and
// ?file=motor.pdf.
func IsPDFURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	p := strings.ToLower(parsed.Path)
	if strings.HasSuffix(p, ".pdf") || strings.HasSuffix(p, ".pdf/") {
		return true
	}
	if strings.Contains(p, ".pdf") {
		return true
	}
	return strings.Contains(strings.ToLower(parsed.RawQuery), ".pdf")
}

// docPathKeywords mark URL paths that often resolve to documents even
// without a .pdf extension.
var docPathKeywords = []string{
	"/download", "/document", "/getdocument", "/getfile",
	"/file/", "/media/", "/assets/", "/pdfs/", "/publications/",
	"/forms/", "/brochure", "/disclosure", "/resources/",
	"/policy-wording", "/policy-document", "/pds/",
	"/factsheet", "/fact-sheet", "/target-market",
	"/product-guide", "/claim-form", "/certificate",
	"/wp-content/uploads", "/sites/default/files",
}

var docTextKeywords = []string{
	"download", "pdf", "policy wording", "pds", "fact sheet",
	"product disclosure", "target market", "brochure",
	"view document", "open document", "policy document",
	"claim form", "product guide", "view pdf", "download pdf",
	"terms and conditions", "certificate of insurance",
	"supplementary", "endorsement",
}

// IsPotentialDocumentURL reports whether a non-PDF-looking URL is worth a
// header-only probe, judged from the path and the anchor text.
func IsPotentialDocumentURL(raw, linkText string) bool {
	urlLower := strings.ToLower(raw)
	for _, kw := range docPathKeywords {
		if strings.Contains(urlLower, kw) {
			return true
		}
	}
	textLower := strings.ToLower(linkText)
	if textLower == "" {
		return false
	}
	for _, kw := range docTextKeywords {
		if strings.Contains(textLower, kw) {
			return true
		}
	}
	return false
}

// RegistrableDomain extracts the domain unit used for same-site comparison,
// accounting for two-label ccTLD suffixes so tower.co.nz does not match
// every other .co.nz site.
func RegistrableDomain(host string) string {
	host = strings.ToLower(host)
	host = strings.TrimPrefix(host, "www.")
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	parts := strings.Split(host, ".")
	if len(parts) >= 3 {
		suffix := strings.Join(parts[len(parts)-2:], ".")
		if _, ok := ccTLDSuffixes[suffix]; ok {
			return strings.Join(parts[len(parts)-3:], ".")
		}
	}
	if len(parts) >= 2 {
		return strings.Join(parts[len(parts)-2:], ".")
	}
	return host
}

// SameDomain reports whether two URLs share a registrable domain,
// treating subdomains of the same organization as the same site.
func SameDomain(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	da := RegistrableDomain(ua.Host)
	db := RegistrableDomain(ub.Host)
	return da != "" && da == db
}

// SanitizeFilename strips path separators and anything outside
// [a-zA-Z0-9._-], preventing traversal via crafted remote names.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, `\`, "_")
	name = strings.ReplaceAll(name, "..", "_")
	name = invalidFilenameChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		name = "unknown"
	}
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}

// ExtractInsurerName derives a best-effort insurer label from the URL host.
func ExtractInsurerName(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "Unknown"
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	first, _, _ := strings.Cut(host, ".")
	if first == "" {
		return "Unknown"
	}
	return SanitizeFilename(strings.ToUpper(first[:1]) + first[1:])
}

// FilenameFromURL produces a sanitized .pdf filename from a candidate URL.
func FilenameFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	name := ""
	if err == nil {
		name = path.Base(parsed.Path)
	}
	if name == "" || name == "." || name == "/" {
		name = "document.pdf"
	}
	name = SanitizeFilename(name)
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

// PathPrefix returns the first two path segments of a URL, the unit used
// for frontier diversity control.
func PathPrefix(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	segs := strings.Split(parsed.Path, "/")
	if len(segs) > 3 {
		segs = segs[:3]
	}
	return strings.Join(segs, "/")
}
