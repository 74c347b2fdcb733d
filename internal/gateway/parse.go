package gateway

import (
	"net/netip"
	"strings"
	"unicode"
)

// Markers recognised by ParseDefaultGateway.
const (
	MarkerDefaultGateway = "default gateway"
	MarkerVia            = "via"
	MarkerGateway        = "gateway:"
)

var allMarkers = []string{MarkerDefaultGateway, MarkerGateway, MarkerVia}

// ParseDefaultGateway extracts the first default gateway address from command
// output using every known marker.
func ParseDefaultGateway(output string) (string, bool) {
	return parse(output, allMarkers)
}

// parse scans output line by line for a marker. The text after the marker is
// searched for an IPv4 address; when the marker line carries none, exactly one
// following line is tried before the marker is abandoned. The first address
// found wins.
func parse(output string, markers []string) (string, bool) {
	lines := strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
	for i, line := range lines {
		rest, ok := afterMarker(line, markers)
		if !ok {
			continue
		}
		if addr, ok := firstIPv4(rest); ok {
			return addr, true
		}
		if i+1 >= len(lines) {
			break
		}
		next := lines[i+1]
		if _, isMarker := afterMarker(next, markers); isMarker {
			continue
		}
		if addr, ok := firstIPv4(next); ok {
			return addr, true
		}
	}
	return "", false
}

// afterMarker returns the remainder of line following the first marker found
// on a word boundary.
func afterMarker(line string, markers []string) (string, bool) {
	lower := asciiLower(line)
	for _, marker := range markers {
		if end := markerEnd(lower, marker); end >= 0 {
			return line[end:], true
		}
	}
	return "", false
}

// asciiLower folds only A-Z so byte offsets in the result match line. Output
// in an OEM codepage or with invalid UTF-8 must not shift the slice point.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func markerEnd(lower, marker string) int {
	offset := 0
	for {
		idx := strings.Index(lower[offset:], marker)
		if idx < 0 {
			return -1
		}
		start := offset + idx
		end := start + len(marker)
		if boundaryBefore(lower, start) && boundaryAfter(lower, end, marker) {
			return end
		}
		offset = start + 1
	}
}

func boundaryBefore(s string, start int) bool {
	if start == 0 {
		return true
	}
	return !isWordByte(s[start-1])
}

func boundaryAfter(s string, end int, marker string) bool {
	if end >= len(s) || !isWordByte(marker[len(marker)-1]) {
		return true
	}
	return !isWordByte(s[end])
}

func isWordByte(b byte) bool {
	return b < 0x80 && (unicode.IsLetter(rune(b)) || unicode.IsDigit(rune(b)) || b == '_')
}

// firstIPv4 treats colons as separators so labels such as ". . . :" and IPv6
// link-local gateways never fuse with the IPv4 candidate.
func firstIPv4(text string) (string, bool) {
	normalized := strings.NewReplacer(":", " ", "\t", " ", "\r", " ", "\n", " ").Replace(text)
	for _, token := range strings.Fields(normalized) {
		token = strings.Trim(token, "()[],;")
		if strings.Count(token, ".") != 3 {
			continue
		}
		addr, err := netip.ParseAddr(token)
		if err != nil || !addr.Is4() {
			continue
		}
		return addr.String(), true
	}
	return "", false
}
