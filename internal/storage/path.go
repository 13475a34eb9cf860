package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

const exportRoot = "exports"

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildExportPath partitions answer exports by UTC date and hour.
func BuildExportPath(answerID string, at time.Time) (string, error) {
	if err := validatePathComponent(answerID, "answer id"); err != nil {
		return "", err
	}
	ts := at.UTC()
	return path.Join(
		exportRoot,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("hour=%02d", ts.Hour()),
		fmt.Sprintf("answer-%s.parquet", answerID),
	), nil
}

// IsExportPath reports whether key lives under the export root and is safe to serve.
func IsExportPath(key string) bool {
	cleaned := path.Clean(strings.TrimPrefix(key, "/"))
	if cleaned != strings.TrimPrefix(key, "/") {
		return false
	}
	return strings.HasPrefix(cleaned, exportRoot+"/") && strings.HasSuffix(cleaned, ".parquet")
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
