package config

// stripJSONComments removes // line comments and /* block */ comments from a
// JSONC document so it can be fed to a plain JSON decoder. Comment markers
// inside string literals are left untouched.
func stripJSONComments(data []byte) []byte {
	out := make([]byte, 0, len(data))
	inString := false
	inLine := false
	inBlock := false

	for i := 0; i < len(data); i++ {
		c := data[i]

		switch {
		case inLine:
			if c == '\n' {
				inLine = false
				out = append(out, c)
			}
		case inBlock:
			if c == '*' && i+1 < len(data) && data[i+1] == '/' {
				inBlock = false
				i++
			}
		case inString:
			out = append(out, c)
			if c == '\\' && i+1 < len(data) {
				i++
				out = append(out, data[i])
			} else if c == '"' {
				inString = false
			}
		default:
			if c == '"' {
				inString = true
				out = append(out, c)
			} else if c == '/' && i+1 < len(data) && data[i+1] == '/' {
				inLine = true
				i++
			} else if c == '/' && i+1 < len(data) && data[i+1] == '*' {
				inBlock = true
				i++
			} else {
				out = append(out, c)
			}
		}
	}
	return out
}
