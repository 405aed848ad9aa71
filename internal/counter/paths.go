package counter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tally/internal/coord"
)

var (
	// ErrInvalidCategory reports a category that cannot be used in a path.
	ErrInvalidCategory = errors.New("invalid category")
	// ErrInvalidKind reports an unknown counter kind.
	ErrInvalidKind = errors.New("invalid counter kind")
	// ErrInvalidDimension reports a sub-dimension id that cannot be used in a path.
	ErrInvalidDimension = errors.New("invalid dimension")
)

// Kind names one family of counters.
type Kind string

const (
	// NoResponse counts calls that got no answer.
	NoResponse Kind = "no_response"
	// WrongContent counts answers that failed validation.
	WrongContent Kind = "wrong_content"
	// ResponseSuccess counts good answers, optionally per product or tv id.
	ResponseSuccess Kind = "response_success"
	// Exception counts calls that failed with an error.
	Exception Kind = "exception"
	// Beyond counts calls rejected for exceeding a limit.
	Beyond Kind = "beyond"
)

// Kinds lists every counter kind in a stable order.
func Kinds() []Kind {
	return []Kind{NoResponse, WrongContent, ResponseSuccess, Exception, Beyond}
}

// ParseKind accepts the path token or its dashed form.
func ParseKind(raw string) (Kind, error) {
	token := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	for _, kind := range Kinds() {
		if kind == token {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, raw)
}

// DayLayout is the day stamp format used in counter paths.
const DayLayout = "20060102"

// Day formats t as a local-time YYYYMMDD stamp.
func Day(t time.Time) string {
	return t.Local().Format(DayLayout)
}

// ValidDay reports whether day is a YYYYMMDD stamp.
func ValidDay(day string) bool {
	if len(day) != len(DayLayout) {
		return false
	}
	_, err := time.ParseInLocation(DayLayout, day, time.Local)
	return err == nil
}

// Dimension is an optional sub-dimension suffix such as a product id.
type Dimension struct {
	Tag string
	ID  string
}

// Product scopes a counter to one product.
func Product(id string) Dimension {
	return Dimension{Tag: "p", ID: id}
}

// TV scopes a counter to one tv id.
func TV(id string) Dimension {
	return Dimension{Tag: "t", ID: id}
}

// PathPolicy builds counter paths from kind, day, category and dimensions.
type PathPolicy struct {
	Root       string
	NodePrefix string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Today returns the current day stamp.
func (p PathPolicy) Today() string {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return Day(now())
}

// Path returns <root>/<prefix><kind>_<day>_<category>[_<tag>_<id>...].
func (p PathPolicy) Path(kind Kind, day, category string, dims ...Dimension) (string, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return "", err
	}
	if err := checkSegment(category); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	if !ValidDay(day) {
		return "", fmt.Errorf("invalid day %q: expected %s", day, "YYYYMMDD")
	}
	var b strings.Builder
	b.WriteString(p.NodePrefix)
	b.WriteString(string(kind))
	b.WriteByte('_')
	b.WriteString(day)
	b.WriteByte('_')
	b.WriteString(category)
	for _, dim := range dims {
		if checkSegment(dim.Tag) != nil || checkSegment(dim.ID) != nil {
			return "", fmt.Errorf("%w: %s=%q", ErrInvalidDimension, dim.Tag, dim.ID)
		}
		b.WriteByte('_')
		b.WriteString(dim.Tag)
		b.WriteByte('_')
		b.WriteString(dim.ID)
	}
	path := coord.Join(p.Root, b.String())
	if err := coord.ValidatePath(path); err != nil {
		return "", err
	}
	return path, nil
}

// checkSegment rejects values that could not be told apart once joined.
// '_' separates segments, so it may not appear inside one.
func checkSegment(s string) error {
	if s == "" || strings.ContainsAny(s, "/_\x00") {
		return errors.New("bad segment")
	}
	return nil
}
