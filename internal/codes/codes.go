// Package codes formats and parses the human-readable identifiers shared with
// client applications.
package codes

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	branchPrefix   = "TFFB"
	employeePrefix = "TFEM"
	customerPrefix = "TFC"
	orderPrefix    = "TFFORD"

	orderDayLayout = "20060102"
)

var ErrInvalidCode = errors.New("invalid code")

func Branch(id int64) string {
	return fmt.Sprintf("%s%03d", branchPrefix, id)
}

func Employee(id int64) string {
	return fmt.Sprintf("%s%03d", employeePrefix, id)
}

// Customer pads to at least three digits and grows with the id.
func Customer(id int64) string {
	return fmt.Sprintf("%s%03d", customerPrefix, id)
}

// Order renders TFFORD<YYYYMMDD>-<seq> with a four digit, zero padded sequence.
func Order(day time.Time, seq int) string {
	return fmt.Sprintf("%s%s-%04d", orderPrefix, day.Format(orderDayLayout), seq)
}

func ParseBranch(code string) (int64, error) {
	return parseNumeric(code, branchPrefix)
}

func parseNumeric(code, prefix string) (int64, error) {
	digits, ok := strings.CutPrefix(code, prefix)
	if !ok || len(digits) < 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidCode, code)
		}
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	return id, nil
}

// ParseRef accepts either a bare numeric id or a prefixed code.
func ParseRef(ref string, parse func(string) (int64, error)) (int64, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if id < 1 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidCode, ref)
		}
		return id, nil
	}
	return parse(ref)
}
