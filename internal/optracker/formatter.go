package optracker

import (
	"strconv"
	"time"
)

// Formatter is the structured-output sink used by the dump operations.
//
// Documents are nested object and array sections with string and integer
// leaves. Sections opened inside an array are anonymous; their name is a
// hint only. internal/format provides JSON and YAML implementations.
type Formatter interface {
	OpenObjectSection(name string)
	OpenArraySection(name string)
	CloseSection()
	DumpString(name, value string)
	DumpInt(name string, value int64)
}

// TimeLayout is the layout used for timestamps in dumps and warnings.
const TimeLayout = "2006-01-02 15:04:05.000000"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// FormatSeconds renders d as decimal seconds without trailing zeros
// ("40", "30.5", "0.000125").
func FormatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
