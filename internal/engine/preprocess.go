package engine

// StripBackticks removes cosmetic backtick escapes outside string
// literals: i`e`x becomes iex. Backticks that spell a real escape
// (`n, `t, a trailing line continuation) or sit inside strings and
// comments are kept, so the cleaned source lexes identically.
func StripBackticks(src []byte) []byte {
	out := make([]byte, 0, len(src))
	var inSingle, inDouble, inComment, inBlockComment bool

	for i := 0; i < len(src); i++ {
		ch := src[i]
		switch {
		case inSingle:
			if ch == '\'' {
				if i+1 < len(src) && src[i+1] == '\'' {
					out = append(out, ch, src[i+1])
					i++
					continue
				}
				inSingle = false
			}
		case inDouble:
			if ch == '`' && i+1 < len(src) {
				out = append(out, ch, src[i+1])
				i++
				continue
			}
			if ch == '"' {
				if i+1 < len(src) && src[i+1] == '"' {
					out = append(out, ch, src[i+1])
					i++
					continue
				}
				inDouble = false
			}
		case inComment:
			if ch == '\n' {
				inComment = false
			}
		case inBlockComment:
			if ch == '>' && i > 0 && src[i-1] == '#' {
				inBlockComment = false
			}
		default:
			switch ch {
			case '\'':
				inSingle = true
			case '"':
				inDouble = true
			case '#':
				inComment = true
			case '<':
				if i+1 < len(src) && src[i+1] == '#' {
					inBlockComment = true
					out = append(out, ch, src[i+1])
					i++
					continue
				}
			case '`':
				if i+1 < len(src) && strippable(src[i+1]) {
					continue
				}
			}
		}
		out = append(out, ch)
	}
	return out
}

// strippable reports whether a backtick before this character is purely
// cosmetic. Escape letters and whitespace keep their backtick.
func strippable(ch byte) bool {
	switch ch | 0x20 {
	case '0', 'a', 'b', 'e', 'f', 'n', 'r', 't', 'u', 'v':
		return false
	}
	return (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9')
}
