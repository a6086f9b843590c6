package envelope

import (
	"fmt"
	"regexp"
	"strconv"
)

// Lines follow the glog prefix grammar: severity, month/day, wall time with
// microseconds, thread id, "source_path:line] " and then the JSON payload.
// The year is not logged; callers supply one when formatting timestamps.
// The pattern is deliberately unanchored so launcher-wrapped lines like
// "[rank0]: V0806 ..." still match.
var lineRe = regexp.MustCompile(
	`(?P<level>[VIWEC])(?P<month>\d{2})(?P<day>\d{2}) ` +
		`(?P<hour>\d{2}):(?P<minute>\d{2}):(?P<second>\d{2})\.(?P<micros>\d{6}) ` +
		`(?P<thread>\d+)` +
		`(?P<pathname>[^:]+):(?P<line>\d+)\] ` +
		`(?P<payload>.)`)

var groupIndex = func() map[string]int {
	idx := make(map[string]int)
	for i, name := range lineRe.SubexpNames() {
		if name != "" {
			idx[name] = i
		}
	}
	return idx
}()

// LinePrefix is the decoded fixed-grammar prefix of one log line.
type LinePrefix struct {
	Level    byte
	Month    int
	Day      int
	Hour     int
	Minute   int
	Second   int
	Micros   int
	Thread   uint64
	Pathname string
	Line     int

	// PayloadStart is the byte offset where the JSON payload begins.
	PayloadStart int
}

// Timestamp renders the prefix time as ISO-8601 with microsecond precision,
// under the given year.
func (p *LinePrefix) Timestamp(year int) string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d.%06dZ",
		year, p.Month, p.Day, p.Hour, p.Minute, p.Second, p.Micros)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// ParseLinePrefix matches one physical line against the line grammar. The
// second return value is false when the line does not match; the caller
// counts it as a grammar failure and moves on.
func ParseLinePrefix(line string) (*LinePrefix, bool) {
	loc := lineRe.FindStringSubmatchIndex(line)
	if loc == nil {
		return nil, false
	}
	group := func(name string) string {
		i := groupIndex[name]
		return line[loc[2*i]:loc[2*i+1]]
	}
	thread, err := strconv.ParseUint(group("thread"), 10, 64)
	if err != nil {
		return nil, false
	}
	return &LinePrefix{
		Level:        group("level")[0],
		Month:        atoi(group("month")),
		Day:          atoi(group("day")),
		Hour:         atoi(group("hour")),
		Minute:       atoi(group("minute")),
		Second:       atoi(group("second")),
		Micros:       atoi(group("micros")),
		Thread:       thread,
		Pathname:     group("pathname"),
		Line:         atoi(group("line")),
		PayloadStart: loc[2*groupIndex["payload"]],
	}, true
}
