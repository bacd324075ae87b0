package utils

import (
	"net"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

var urlRegex = regexp.MustCompile(`https?://[^\s<>]+`)

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid", "gclid"}

var imageExtensions = map[string]struct{}{
	".gif":  {},
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".webp": {},
	".apng": {},
}

func ExtractURLs(content string) []string {
	return urlRegex.FindAllString(content, -1)
}

func NormalizeURL(raw string) (string, string, error) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}

	host := strings.ToLower(parsed.Hostname())
	if net.ParseIP(host) == nil {
		if asciiHost, err := idna.ToASCII(host); err == nil {
			host = asciiHost
		}
	}

	if port := parsed.Port(); port != "" {
		parsed.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		parsed.Host = "[" + host + "]"
	} else {
		parsed.Host = host
	}
	parsed.Fragment = ""
	parsed.User = nil

	query := parsed.Query()
	for _, key := range trackingParams {
		query.Del(key)
	}
	parsed.RawQuery = normalizeQuery(query)

	return parsed.String(), host, nil
}

// ExtractImageURLs returns the URLs in content exactly as posted, minus
// trailing punctuation, skipping any whose normalised form was already seen.
// Every URL is returned; callers confirm the media type with a metadata check.
func ExtractImageURLs(content string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, raw := range ExtractURLs(content) {
		posted := strings.TrimRight(raw, ").,>")
		key, host, err := NormalizeURL(posted)
		if err != nil || host == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, posted)
	}
	return out
}

// HasImageExtension reports whether the URL path ends in a known image extension.
func HasImageExtension(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	_, ok := imageExtensions[strings.ToLower(path.Ext(parsed.Path))]
	return ok
}

func normalizeQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clean := url.Values{}
	for _, key := range keys {
		clean[key] = values[key]
	}
	return clean.Encode()
}
