package config

import (
	"os"
	"regexp"
	"strings"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvVars replaces ${VAR} and ${VAR:-default} references with
// values from the environment. Unset variables without a default expand
// to the empty string.
func ExpandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		if strings.HasPrefix(groups[2], ":-") {
			return groups[3]
		}
		return ""
	})
}
