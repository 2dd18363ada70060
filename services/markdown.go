package services

import "strings"

const markdownV2Special = "_*[]()~`>#+-=|{}.!\\"

// escapeMarkdownV2 escapes model output for Telegram MarkdownV2. Fenced and
// inline code spans and inline links are kept intact, everything else is
// sent as literal text.
func escapeMarkdownV2(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/4)

	for i := 0; i < len(s); {
		switch {
		case strings.HasPrefix(s[i:], "```"):
			end := strings.Index(s[i+3:], "```")
			if end < 0 {
				b.WriteString("\\`\\`\\`")
				i += 3
				continue
			}
			b.WriteString("```")
			b.WriteString(escapeCode(s[i+3 : i+3+end]))
			b.WriteString("```")
			i += 3 + end + 3

		case s[i] == '`':
			end := strings.IndexByte(s[i+1:], '`')
			if end < 0 {
				b.WriteString("\\`")
				i++
				continue
			}
			b.WriteByte('`')
			b.WriteString(escapeCode(s[i+1 : i+1+end]))
			b.WriteByte('`')
			i += 1 + end + 1

		case s[i] == '[':
			text, url, n, ok := parseLink(s[i:])
			if !ok {
				b.WriteString("\\[")
				i++
				continue
			}
			b.WriteByte('[')
			b.WriteString(escapeText(text))
			b.WriteString("](")
			b.WriteString(escapeLinkURL(url))
			b.WriteByte(')')
			i += n

		default:
			if strings.IndexByte(markdownV2Special, s[i]) >= 0 {
				b.WriteByte('\\')
			}
			b.WriteByte(s[i])
			i++
		}
	}

	return b.String()
}

// parseLink matches "[text](url)" at the start of s. Parentheses inside the
// url may nest. n is the length of the match.
func parseLink(s string) (text, url string, n int, ok bool) {
	closeText := strings.IndexByte(s, ']')
	if closeText < 0 || closeText+1 >= len(s) || s[closeText+1] != '(' {
		return "", "", 0, false
	}

	start := closeText + 2
	depth := 0
	for j := start; j < len(s); j++ {
		switch s[j] {
		case '\n':
			return "", "", 0, false
		case '(':
			depth++
		case ')':
			if depth == 0 {
				return s[1:closeText], s[start:j], j + 1, true
			}
			depth--
		}
	}
	return "", "", 0, false
}

func escapeText(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(markdownV2Special, s[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func escapeCode(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "`", "\\`")
	return r.Replace(s)
}

func escapeLinkURL(s string) string {
	r := strings.NewReplacer("\\", "\\\\", ")", "\\)")
	return r.Replace(s)
}
