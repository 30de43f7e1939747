package common

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"emperror.dev/errors"
)

// ErrWithCaller wraps the error message with the name of the calling function
func ErrWithCaller(err error) error {
	pc := make([]uintptr, 1)
	runtime.Callers(2, pc)
	f := runtime.FuncForPC(pc[0])
	return errors.WithMessage(err, filterName(f.Name()))
}

func filterName(name string) string {
	if idx := strings.LastIndex(name, "/"); idx != -1 {
		name = name[idx+1:]
	}
	return name
}

func ContainsInt64Slice(slice []int64, search int64) bool {
	for _, v := range slice {
		if v == search {
			return true
		}
	}

	return false
}

func MustParseInt(s string) int64 {
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		panic("failed parsing int: " + err.Error())
	}
	return i
}

type DurationFormatPrecision int

const (
	DurationPrecisionSeconds DurationFormatPrecision = iota
	DurationPrecisionMinutes
	DurationPrecisionHours
	DurationPrecisionDays
)

func (d DurationFormatPrecision) String() string {
	switch d {
	case DurationPrecisionSeconds:
		return "second"
	case DurationPrecisionMinutes:
		return "minute"
	case DurationPrecisionHours:
		return "hour"
	case DurationPrecisionDays:
		return "day"
	}
	return "unknown"
}

func (d DurationFormatPrecision) FromSeconds(in int64) int64 {
	switch d {
	case DurationPrecisionSeconds:
		return in % 60
	case DurationPrecisionMinutes:
		return (in / 60) % 60
	case DurationPrecisionHours:
		return (in / 3600) % 24
	case DurationPrecisionDays:
		return in / (3600 * 24)
	}
	return 0
}

// HumanizeDuration renders a duration down to the requested precision,
// e.g. "1 day 3 hours 10 minutes" with DurationPrecisionMinutes.
func HumanizeDuration(precision DurationFormatPrecision, in time.Duration) string {
	seconds := int64(in.Seconds())

	out := make([]string, 0, 4)
	for i := int(DurationPrecisionDays); i >= int(precision); i-- {
		p := DurationFormatPrecision(i)
		v := p.FromSeconds(seconds)
		if v > 0 {
			unit := p.String()
			if v > 1 {
				unit += "s"
			}
			out = append(out, fmt.Sprintf("%d %s", v, unit))
		}
	}

	if len(out) < 1 {
		return "less than 1 " + precision.String()
	}

	return strings.Join(out, " ")
}
