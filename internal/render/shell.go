package render

import (
	"strings"

	"github.com/pkg/errors"
)

// ShellQuote returns s as a single POSIX shell word. The word is wrapped in
// single quotes and every embedded single quote becomes '\''. Nothing else
// is interpreted inside single quotes, so newlines, backslashes and a
// literal \n survive unchanged.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ShellUnquote reads one shell word from the start of s, as the shell would
// after ShellQuote, and returns its value and the number of bytes consumed.
// Single-quoted runs, backslash escapes outside quotes and bare characters are
// accepted; the word ends at unquoted whitespace or the end of s.
func ShellUnquote(s string) (string, int, error) {
	var b strings.Builder
	i := 0
	for i < len(s) {
		switch c := s[i]; c {
		case '\'':
			end := strings.IndexByte(s[i+1:], '\'')
			if end < 0 {
				return "", 0, errors.New("unterminated single quote")
			}
			b.WriteString(s[i+1 : i+1+end])
			i += end + 2
		case '\\':
			if i+1 >= len(s) {
				return "", 0, errors.New("trailing backslash")
			}
			b.WriteByte(s[i+1])
			i += 2
		case ' ', '\t', '\n':
			return b.String(), i, nil
		case '"', '$', '`':
			return "", 0, errors.Errorf("unsupported shell syntax %q at offset %d", c, i)
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), i, nil
}
