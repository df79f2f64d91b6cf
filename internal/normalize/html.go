package normalize

import (
	"strings"

	"golang.org/x/net/html"
)

// CleanHTML converts post HTML to plain text: <br> becomes a space, other
// tags are dropped, entities are decoded and whitespace runs collapse. An
// empty result is nil.
func CleanHTML(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF in practice; a strings.Reader cannot fail otherwise.
			return collapse(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			if name, _ := z.TagName(); string(name) == "br" {
				b.WriteByte(' ')
			}
		}
	}
}

func collapse(s string) *string {
	out := strings.Join(strings.Fields(s), " ")
	if out == "" {
		return nil
	}
	return &out
}

// nullable trims nothing but maps empty and whitespace-only strings to nil.
func nullable(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func nullablePtr(s *string) *string {
	if s == nil {
		return nil
	}
	return nullable(*s)
}
