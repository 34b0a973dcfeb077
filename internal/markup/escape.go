package markup

import (
	"html"
	"strings"

	xhtml "golang.org/x/net/html"
)

// escaper matches the entity choices vichan's own sanitizer produces, which
// differ from html.EscapeString for quotes and adds the backtick.
var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"`", "&#x60;",
)

// EscapeHTML escapes text for inclusion in an HTML body.
func EscapeHTML(s string) string {
	return escaper.Replace(s)
}

// UnescapeHTML decodes every named and numeric character reference.
func UnescapeHTML(s string) string {
	return html.UnescapeString(s)
}

// StripTags removes all markup and comments, keeping text content as written.
// Character references are left encoded.
func StripTags(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}

	var b strings.Builder
	z := xhtml.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			return b.String()
		case xhtml.TextToken:
			b.Write(z.Raw())
		}
	}
}

// EncodeURI percent-encodes everything outside the URI reserved and
// unreserved sets, leaving an already formed URL intact.
func EncodeURI(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isURIChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isURIChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte(";,/?:@&=+$-_.!~*'()#", c) >= 0
}
