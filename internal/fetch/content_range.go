package fetch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// HeaderContentRange carries the time range a segment response covers, in
// nanoseconds: "start-end/total".
const HeaderContentRange = "X-Content-Range"

var (
	// ErrMissingContentRange is returned when a 200 response has no
	// X-Content-Range header.
	ErrMissingContentRange = errors.New("missing " + HeaderContentRange + " header")

	// ErrInvalidContentRange is returned when the header cannot be parsed.
	ErrInvalidContentRange = errors.New("invalid " + HeaderContentRange + " header")
)

// ContentRange is a parsed X-Content-Range value. All fields are nanoseconds.
type ContentRange struct {
	Start int64
	End   int64
	Total int64
}

// ParseContentRange parses "start-end/total".
func ParseContentRange(v string) (ContentRange, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return ContentRange{}, ErrMissingContentRange
	}

	span, total, ok := strings.Cut(v, "/")
	if !ok {
		return ContentRange{}, fmt.Errorf("%w: %q", ErrInvalidContentRange, v)
	}
	startStr, endStr, ok := strings.Cut(span, "-")
	if !ok {
		return ContentRange{}, fmt.Errorf("%w: %q", ErrInvalidContentRange, v)
	}

	var cr ContentRange
	var err error
	if cr.Start, err = strconv.ParseInt(strings.TrimSpace(startStr), 10, 64); err != nil {
		return ContentRange{}, fmt.Errorf("%w: start: %v", ErrInvalidContentRange, err)
	}
	if cr.End, err = strconv.ParseInt(strings.TrimSpace(endStr), 10, 64); err != nil {
		return ContentRange{}, fmt.Errorf("%w: end: %v", ErrInvalidContentRange, err)
	}
	if cr.Total, err = strconv.ParseInt(strings.TrimSpace(total), 10, 64); err != nil {
		return ContentRange{}, fmt.Errorf("%w: total: %v", ErrInvalidContentRange, err)
	}
	if cr.Start < 0 || cr.End < cr.Start {
		return ContentRange{}, fmt.Errorf("%w: %q", ErrInvalidContentRange, v)
	}
	return cr, nil
}

// String formats cr the way the backend sends it.
func (cr ContentRange) String() string {
	return fmt.Sprintf("%d-%d/%d", cr.Start, cr.End, cr.Total)
}
