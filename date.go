package pgclient

import (
	"fmt"
	"strconv"
	"time"

	"braces.dev/errtrace"
)

// Date is a calendar date with no time of day and no zone. The zero value
// is invalid; construct through NewDate or ParseDate, which reject
// impossible dates (there is no February 31st) instead of normalizing them
// the way time.Date does.
type Date struct {
	year  int
	month time.Month
	day   int
}

func NewDate(year int, month time.Month, day int) (Date, error) {
	if year < 1 || year > 9999 {
		return Date{}, errtrace.Wrap(invalidDate(year, month, day))
	}
	if month < time.January || month > time.December {
		return Date{}, errtrace.Wrap(invalidDate(year, month, day))
	}
	if day < 1 || day > daysInMonth(year, month) {
		return Date{}, errtrace.Wrap(invalidDate(year, month, day))
	}
	return Date{year: year, month: month, day: day}, nil
}

func invalidDate(year int, month time.Month, day int) error {
	return &DecodeError{
		Expected: "valid calendar date",
		Actual:   fmt.Sprintf("%04d-%02d-%02d", year, int(month), day),
	}
}

func daysInMonth(year int, month time.Month) int {
	switch month {
	case time.April, time.June, time.September, time.November:
		return 30
	case time.February:
		if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
			return 29
		}
		return 28
	default:
		return 31
	}
}

// ParseDate parses the YYYY-MM-DD wire form.
func ParseDate(s string) (Date, error) {
	if len(s) != 10 || s[4] != '-' || s[7] != '-' {
		return Date{}, errtrace.Wrap(&DecodeError{Expected: "date in YYYY-MM-DD form", Actual: strconv.Quote(s)})
	}
	year, err := strconv.Atoi(s[0:4])
	if err != nil {
		return Date{}, errtrace.Wrap(&DecodeError{Expected: "date in YYYY-MM-DD form", Actual: strconv.Quote(s)})
	}
	month, err := strconv.Atoi(s[5:7])
	if err != nil {
		return Date{}, errtrace.Wrap(&DecodeError{Expected: "date in YYYY-MM-DD form", Actual: strconv.Quote(s)})
	}
	day, err := strconv.Atoi(s[8:10])
	if err != nil {
		return Date{}, errtrace.Wrap(&DecodeError{Expected: "date in YYYY-MM-DD form", Actual: strconv.Quote(s)})
	}
	return errtrace.Wrap2(NewDate(year, time.Month(month), day))
}

func (d Date) Year() int {
	return d.year
}

func (d Date) Month() time.Month {
	return d.month
}

func (d Date) Day() int {
	return d.day
}

// String renders the wire form, YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.year, int(d.month), d.day)
}

// Compare orders two dates chronologically, returning -1, 0 or +1.
func (d Date) Compare(other Date) int {
	switch {
	case d.year != other.year:
		return cmp(d.year, other.year)
	case d.month != other.month:
		return cmp(int(d.month), int(other.month))
	default:
		return cmp(d.day, other.day)
	}
}

func cmp(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
