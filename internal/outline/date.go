package outline

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	_ "time/tzdata"
)

const dateExpr = `(?:(?:\d{4}/)?\d{1,2}/)?\d{1,2}(?:T\d{1,2}(?::\d{2})?)?`

var (
	dateRe     = regexp.MustCompile(`^(?:(\d{4})/)?(?:(\d{1,2})/)?(\d{1,2})(?:T(\d{1,2})(?::(\d{2}))?)?$`)
	dateSpanRe = regexp.MustCompile(`^(` + dateExpr + `)?-(` + dateExpr + `)?$`)
)

// DateLiteral is a wall-clock date as typed by a user. Missing year and month
// come from the requester's current local date.
type DateLiteral struct {
	Year   int `json:"year,omitempty"`
	Month  int `json:"month,omitempty"`
	Day    int `json:"day"`
	Hour   int `json:"hour,omitempty"`
	Minute int `json:"minute,omitempty"`
}

func (d DateLiteral) String() string {
	s := strconv.Itoa(d.Day)
	if d.Month > 0 {
		s = fmt.Sprintf("%d/%s", d.Month, s)
		if d.Year > 0 {
			s = fmt.Sprintf("%d/%s", d.Year, s)
		}
	}
	if d.Hour > 0 || d.Minute > 0 {
		s += fmt.Sprintf("T%d:%02d", d.Hour, d.Minute)
	}
	return s
}

// ParseDate reads [[YYYY/]M/]D[Thh[:mm]].
func ParseDate(s string) (DateLiteral, error) {
	m := dateRe.FindStringSubmatch(s)
	if m == nil {
		return DateLiteral{}, fmt.Errorf("%q is not a date", s)
	}
	atoi := func(x string) int {
		if x == "" {
			return 0
		}
		n, _ := strconv.Atoi(x)
		return n
	}
	d := DateLiteral{Year: atoi(m[1]), Month: atoi(m[2]), Day: atoi(m[3]), Hour: atoi(m[4]), Minute: atoi(m[5])}
	if m[1] != "" && m[2] == "" {
		return DateLiteral{}, fmt.Errorf("%q has a year but no month", s)
	}
	return d, nil
}

// Localizer turns a user's local date literal into an absolute instant.
type Localizer interface {
	Globalize(DateLiteral) (time.Time, error)
}

// Zone localizes against an IANA location.
type Zone struct {
	Loc *time.Location
	Now func() time.Time
}

// NewZone loads tz, falling back to UTC for an empty name.
func NewZone(tz string, now func() time.Time) (Zone, error) {
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Zone{}, fmt.Errorf("unknown timezone %q: %w", tz, err)
	}
	if now == nil {
		now = time.Now
	}
	return Zone{Loc: loc, Now: now}, nil
}

func (z Zone) Globalize(d DateLiteral) (time.Time, error) {
	loc := z.Loc
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now
	if z.Now != nil {
		now = z.Now
	}
	today := now().In(loc)
	year, month := d.Year, d.Month
	if year == 0 {
		year = today.Year()
	}
	if month == 0 {
		month = int(today.Month())
	}
	if month < 1 || month > 12 || d.Day < 1 || d.Hour > 23 || d.Minute > 59 {
		return time.Time{}, fmt.Errorf("%s is out of range", d)
	}
	t := time.Date(year, time.Month(month), d.Day, d.Hour, d.Minute, 0, 0, loc)
	if t.Day() != d.Day || int(t.Month()) != month {
		return time.Time{}, fmt.Errorf("%d/%d/%d does not exist", year, month, d.Day)
	}
	return t.UTC(), nil
}
