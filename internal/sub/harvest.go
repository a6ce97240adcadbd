package sub

import (
	"net"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/John-Robertt/nodeprobe/internal/model"
)

// linkPatterns are tried in this order; the character classes follow what
// aggregator pages actually contain and deliberately stop at whitespace,
// quotes and HTML tag delimiters.
var linkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bss://[A-Za-z0-9+/=_\-:%#@.?&;]+`),
	regexp.MustCompile(`(?i)\bssr://[A-Za-z0-9+/=_\-:;]+`),
	regexp.MustCompile(`(?i)\bsip002://[A-Za-z0-9+/=_\-:%#@.?&;]+`),
	regexp.MustCompile(`(?i)\bvmess://[A-Za-z0-9+/=_\-:;{}",.]+`),
	regexp.MustCompile(`(?i)\btrojan://[A-Za-z0-9+/=_\-:%#@.?&;]+`),
	regexp.MustCompile(`(?i)\bvless://[A-Za-z0-9+/=_\-:%#@.?&]+`),
}

var ipPortPattern = regexp.MustCompile(`\b((?:\d{1,3}\.){3}\d{1,3}):(\d{2,5})\b`)

var base64Body = regexp.MustCompile(`^[A-Za-z0-9+/=_\-\s]+$`)

// HarvestResult is what one source blob contributed.
type HarvestResult struct {
	Records []model.NodeRecord

	// Candidates counts descriptors found before normalization.
	Candidates int

	// Rejected counts normalization failures by ParseError code; Errors keeps
	// them for debug logging.
	Rejected map[string]int
	Errors   []error
}

func (h *HarvestResult) reject(err error) {
	if h.Rejected == nil {
		h.Rejected = make(map[string]int)
	}
	h.Rejected[ErrorCode(err)]++
	h.Errors = append(h.Errors, err)
}

// Harvest scans one free-form text blob (subscription body, README, HTML page,
// Clash YAML) for node descriptors. Records come out in a fixed order: scheme
// links grouped by scheme, then Clash proxies, then bare ip:port candidates.
// Malformed descriptors are counted, never fatal.
func Harvest(text string) HarvestResult {
	var res HarvestResult

	s := strings.TrimSpace(stripUTF8BOM(text))
	if s == "" {
		return res
	}
	s = maybeDecodeBody(s)

	links, rest := extractLinks(s)
	for _, lk := range links {
		res.Candidates++
		recs, err := Normalize(lk)
		if err != nil {
			res.reject(err)
			continue
		}
		res.Records = append(res.Records, recs...)
	}

	if strings.Contains(rest, "proxies:") {
		clash := parseClashProxies(s)
		res.Candidates += clash.Candidates
		res.Records = append(res.Records, clash.Records...)
		for _, err := range clash.Errors {
			res.reject(err)
		}
	}

	for _, ep := range extractIPPorts(rest) {
		res.Candidates++
		recs, err := Normalize(ep)
		if err != nil {
			res.reject(err)
			continue
		}
		res.Records = append(res.Records, recs...)
	}
	return res
}

// maybeDecodeBody decodes whole-body base64 subscriptions. Text that already
// contains a scheme separator, or that is too short to be a list, is left as is.
func maybeDecodeBody(s string) string {
	if strings.Contains(s, "://") || len(s) <= 64 || !base64Body.MatchString(s) {
		return s
	}
	b, err := decodeB64ToBytes(s)
	if err != nil || !utf8.Valid(b) {
		return s
	}
	return string(b)
}

// extractLinks returns unique scheme links in pattern order and the input with
// every matched link blanked out, so addresses embedded in links are not
// picked up again as bare endpoints.
func extractLinks(s string) ([]string, string) {
	seen := make(map[string]struct{})
	var out []string
	masked := []byte(s)
	for _, re := range linkPatterns {
		for _, loc := range re.FindAllStringIndex(s, -1) {
			lk := s[loc[0]:loc[1]]
			for i := loc[0]; i < loc[1]; i++ {
				masked[i] = ' '
			}
			if _, ok := seen[lk]; ok {
				continue
			}
			seen[lk] = struct{}{}
			out = append(out, lk)
		}
	}
	return out, string(masked)
}

func extractIPPorts(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range ipPortPattern.FindAllStringSubmatch(s, -1) {
		ip := net.ParseIP(m[1])
		if ip == nil || ip.To4() == nil {
			continue
		}
		port, err := strconv.Atoi(m[2])
		if err != nil || port < 1 || port > 65535 {
			continue
		}
		ep := net.JoinHostPort(ip.String(), strconv.Itoa(port))
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
