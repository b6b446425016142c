// Package linkheader parses RFC 8288 Link headers, which is how a
// participant advertises its compensate/complete/status/forget/after
// callback URIs on join (spec.md §4.1). The rel vocabulary recognized
// here mirrors the original client's LRAResponseUtils.
package linkheader

import (
	"fmt"
	"strings"
)

// Recognized rel values.
const (
	RelCompensate = "compensate"
	RelComplete   = "complete"
	RelStatus     = "status"
	RelForget     = "forget"
	RelAfter      = "after"
)

// Link is one "<uri>; rel=value" entry.
type Link struct {
	URI string
	Rel string
}

// Parse parses the value of an HTTP Link header into its entries. A
// malformed header (missing angle brackets, missing rel parameter)
// returns an error; spec.md §4.1 maps that to a 500 at the HTTP surface.
func Parse(header string) ([]Link, error) {
	if strings.TrimSpace(header) == "" {
		return nil, nil
	}

	var links []Link
	for _, part := range splitTopLevel(header) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		l, err := parseOne(part)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, nil
}

// splitTopLevel splits on commas that are not inside a "<...>" segment,
// since a URI itself never legally contains a comma inside the angle
// brackets used here.
func splitTopLevel(header string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range header {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, header[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, header[start:])
	return parts
}

func parseOne(part string) (Link, error) {
	open := strings.IndexByte(part, '<')
	close := strings.IndexByte(part, '>')
	if open != 0 || close < 0 || close <= open {
		return Link{}, fmt.Errorf("linkheader: malformed entry %q", part)
	}
	uri := part[open+1 : close]

	rest := part[close+1:]
	rel := ""
	for _, param := range strings.Split(rest, ";") {
		param = strings.TrimSpace(param)
		if param == "" {
			continue
		}
		kv := strings.SplitN(param, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		if strings.EqualFold(key, "rel") {
			rel = val
		}
	}
	if rel == "" {
		return Link{}, fmt.Errorf("linkheader: entry %q missing rel parameter", part)
	}
	return Link{URI: uri, Rel: rel}, nil
}

// ByRel indexes a parsed link list by rel, last-one-wins for a repeated
// rel.
func ByRel(links []Link) map[string]string {
	out := make(map[string]string, len(links))
	for _, l := range links {
		out[l.Rel] = l.URI
	}
	return out
}
