// Package sqlguard screens values that end up interpolated into generated
// source files or DDL statements.
package sqlguard

import (
	"regexp"

	libinjection "github.com/corazawaf/libinjection-go"
)

// CheckResult contains the result of an injection check on a value.
type CheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Name        string // Name of the value that failed the check
	Value       string // The value that was checked
}

// CheckValue uses libinjection to detect SQL injection patterns in a value
// that will be interpolated into generated output.
//
// Returns nil if no injection is detected, or a CheckResult with details
// about the detected pattern.
func CheckValue(name, value string) *CheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if isSQLi {
		return &CheckResult{
			IsSQLi:      true,
			Fingerprint: string(fingerprint),
			Name:        name,
			Value:       value,
		}
	}
	return nil
}

// identifierPattern matches lowercase snake_case identifiers as used for
// table, column and index names. The 63-byte cap matches the PostgreSQL
// identifier limit.
var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidIdentifier reports whether name is safe to interpolate into DDL as a
// table, column or index name. Identifiers cannot be bound as statement
// parameters, so anything that fails this check must be rejected before
// statement construction.
func ValidIdentifier(name string) bool {
	if len(name) == 0 || len(name) > 63 {
		return false
	}
	return identifierPattern.MatchString(name)
}
