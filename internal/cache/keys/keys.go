// Package keys builds cache keys for aggregation results.
//
// Every partition owns a generation counter. Result keys embed the generation
// read before computing, so bumping the counter orphans all earlier results
// at once and they age out through their TTL.
package keys

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const prefix = "agg"

// Generation is the counter key for a polygon parts partition.
func Generation(partition string) string {
	return prefix + ":" + sanitizeName(strings.TrimSpace(partition)) + ":gen"
}

// Aggregation is the result key for a partition at generation gen. params are
// the inputs that change the computed output (rounding precision, partition
// content version, format version) and are folded into a fixed-width fingerprint.
func Aggregation(partition string, gen int64, params ...string) string {
	name := sanitizeName(strings.TrimSpace(partition))
	norm := make([]string, 0, len(params))
	for _, p := range params {
		norm = append(norm, collapseASCIIWhitespace(p))
	}
	sum := xxhash.Sum64String(strings.Join(norm, "\x00"))

	var b strings.Builder
	b.Grow(len(prefix) + len(name) + 40)
	b.WriteString(prefix)
	b.WriteByte(':')
	b.WriteString(name)
	b.WriteString(":g")
	b.WriteString(strconv.FormatInt(gen, 10))
	b.WriteString(":f=")
	hex := strconv.FormatUint(sum, 16)
	for range 16 - len(hex) {
		b.WriteByte('0')
	}
	b.WriteString(hex)
	return b.String()
}

// ParseGeneration reads a counter value. A missing or malformed value is
// generation zero.
func ParseGeneration(raw []byte) int64 {
	if len(raw) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func sanitizeName(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '.' || r == '_' || r == '-':
			out = r
		default:
			// ':' is the key separator, so it is replaced along with anything non-ASCII
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
