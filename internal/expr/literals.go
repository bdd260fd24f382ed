package expr

import "strings"

// promoteIntLiterals rewrites decimal integer literals as doubles ("2" becomes
// "2.0"), leaving string literals, identifiers, floats, hex and unsigned
// literals untouched.
func promoteIntLiterals(src string) string {
	var b strings.Builder
	b.Grow(len(src) + 8)

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '"' || c == '\'':
			j := skipString(src, i)
			b.WriteString(src[i:j])
			i = j

		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			b.WriteString(src[i:j])
			i = j

		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			j := i
			for j < len(src) && isDigit(src[j]) {
				j++
			}
			if j < len(src) && strings.IndexByte(".eExXuU", src[j]) >= 0 {
				j = skipNumberTail(src, j)
				b.WriteString(src[i:j])
			} else {
				b.WriteString(src[i:j])
				b.WriteString(".0")
			}
			i = j

		default:
			b.WriteByte(c)
			i++
		}
	}

	return b.String()
}

// skipString returns the index just past the string literal starting at i.
func skipString(src string, i int) int {
	q := src[i]
	if strings.HasPrefix(src[i:], strings.Repeat(string(q), 3)) {
		end := strings.Index(src[i+3:], strings.Repeat(string(q), 3))
		if end < 0 {
			return len(src)
		}
		return i + 3 + end + 3
	}

	for j := i + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case q:
			return j + 1
		}
	}
	return len(src)
}

func skipNumberTail(src string, j int) int {
	for j < len(src) {
		c := src[j]
		switch {
		case isIdentPart(c) || c == '.':
			j++
		case (c == '+' || c == '-') && (src[j-1] == 'e' || src[j-1] == 'E'):
			j++
		default:
			return j
		}
	}
	return j
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
