package nl2sql

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	emptyFenceRun = regexp.MustCompile("(?:```(?:sql)?\\s*){2,}")
	fencedBlock   = regexp.MustCompile("(?s)```(?:sql)?(.*?)```")
)

// ExtractSQL returns the trimmed body of the first fenced block in response, or ""
// when there is none. Unfenced text is never treated as SQL.
func ExtractSQL(response string) string {
	normalized := emptyFenceRun.ReplaceAllString(response, "```")
	match := fencedBlock.FindStringSubmatch(normalized)
	if match == nil {
		return ""
	}
	return stripSQLTag(strings.TrimSpace(match[1]))
}

func stripSQLTag(statement string) string {
	if len(statement) < 3 || !strings.EqualFold(statement[:3], "sql") {
		return statement
	}
	rest := statement[3:]
	if rest != "" && !unicode.IsSpace(rune(rest[0])) {
		return statement
	}
	return strings.TrimSpace(rest)
}
