package pathutil

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// globChars are the characters git treats as wildcards in sparse patterns
const globChars = "*?["

// Normalize converts a requested path to its canonical slash-separated form
// without leading or trailing slashes. An empty result means the repo root.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\ ", " ")
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return ""
	}
	return cleaned
}

// ValidateRelative rejects paths that could escape the clone directory
func ValidateRelative(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("path must not be empty")
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("path %q contains a NUL byte", p)
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") {
		return fmt.Errorf("path %q must be relative", p)
	}
	for _, segment := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if segment == ".." {
			return fmt.Errorf("path %q must not contain '..'", p)
		}
	}
	return nil
}

// ValidateName checks a single path component such as a repository name.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid name %q", name)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("name %q must not contain path separators", name)
	}
	return nil
}

// EscapeSpaces escapes spaces so the path survives as a single sparse pattern
func EscapeSpaces(p string) string {
	return strings.ReplaceAll(p, " ", "\\ ")
}

// StripWildcards removes '*' characters, e.g. for building redirect targets
func StripWildcards(p string) string {
	return strings.ReplaceAll(p, "*", "")
}

// LiteralPrefix returns the leading segments of p that contain no glob
// characters. For "labs/*.ipynb" it returns "labs".
func LiteralPrefix(p string) string {
	p = Normalize(p)
	if !strings.ContainsAny(p, globChars) {
		return p
	}
	var literal []string
	for _, segment := range strings.Split(p, "/") {
		if strings.ContainsAny(segment, globChars) {
			break
		}
		literal = append(literal, segment)
	}
	return strings.Join(literal, "/")
}

// RenderTemplate substitutes {key} placeholders in tmpl
func RenderTemplate(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// EscapeURLPath percent-encodes each segment of a slash-separated path
func EscapeURLPath(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}
