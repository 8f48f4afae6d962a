package oracle

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// Threshold is the configured artifact-age cutoff: either "never" (an
// artifact is never considered stale purely due to age) or a fixed
// duration.
type Threshold struct {
	never bool
	d     time.Duration
}

// Never is the threshold that disables age-based staleness.
var Never = Threshold{never: true}

// ParseThreshold parses the strings accepted by the auto_update config
// key: "never", or a duration like "12h"
// or "3.5 days". time.ParseDuration has no day unit, so days are handled
// separately before falling back to it.
func ParseThreshold(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "never") {
		return Never, nil
	}
	if d, ok, err := parseDays(s); err != nil {
		return Threshold{}, xerrors.Errorf("parsing threshold %q: %w", s, err)
	} else if ok {
		return Threshold{d: d}, nil
	}
	d, err := time.ParseDuration(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return Threshold{}, xerrors.Errorf("parsing threshold %q: %w", s, err)
	}
	return Threshold{d: d}, nil
}

// parseDays recognizes "<number> day(s)", e.g. "3.5 days" or "1 day".
func parseDays(s string) (time.Duration, bool, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, false, nil
	}
	unit := strings.ToLower(fields[1])
	if unit != "day" && unit != "days" {
		return 0, false, nil
	}
	n, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false, err
	}
	return time.Duration(n * float64(24*time.Hour)), true, nil
}

func (t Threshold) String() string {
	if t.never {
		return "never"
	}
	return t.d.String()
}
