package pathexpand

import (
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var (
	// tokenRegexp is the compiled regexp for ${TOKEN} placeholders embedded in path strings
	tokenRegexp *regexp.Regexp
)

func init() {
	r, err := regexp.Compile(`\$\{[^}]+\}`)
	if err != nil {
		panic(errors.Wrap(err, "cannot compile placeholder regexp"))
	}
	tokenRegexp = r
}

// Vars maps placeholder names to their expansion.
type Vars map[string]string

// Expand replaces every ${TOKEN} placeholder in the given path.
// Tokens are looked up in vars first, then in the process environment.
// An unresolvable token is an error: staging must never hand an unexpanded
// placeholder to the transfer layer.
func Expand(path string, vars Vars) (string, error) {
	var expandErr error
	expanded := tokenRegexp.ReplaceAllStringFunc(path, func(s string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}")
		if v, ok := vars[name]; ok {
			return v
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if expandErr == nil {
			expandErr = errors.Errorf("unresolvable placeholder %s in path %s", s, path)
		}
		return s
	})
	if expandErr != nil {
		return "", expandErr
	}
	return expanded, nil
}

// HasToken reports whether the given path contains any ${TOKEN} placeholder.
func HasToken(path string) bool {
	return tokenRegexp.MatchString(path)
}
