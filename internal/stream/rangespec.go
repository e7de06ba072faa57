package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsatisfiable reports a Range header outside the resource.
var ErrUnsatisfiable = errors.New("range not satisfiable")

// ByteRange is an inclusive byte interval.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in the range.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// Header renders the range as a request Range header value.
func (r ByteRange) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// ContentRange renders the response Content-Range value for a resource of
// the given total length.
func (r ByteRange) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// ParseRange interprets a Range header against a resource of known length.
// ok is false when the whole resource should be served. Multi-range and
// malformed headers are ignored.
func ParseRange(header string, length int64) (ByteRange, bool, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return ByteRange{}, false, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return ByteRange{}, false, nil
	}
	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return ByteRange{}, false, nil
	}
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n < 0 {
			return ByteRange{}, false, nil
		}
		if n == 0 || length <= 0 {
			return ByteRange{}, false, ErrUnsatisfiable
		}
		if n > length {
			n = length
		}
		return ByteRange{Start: length - n, End: length - 1}, true, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return ByteRange{}, false, nil
	}
	end := length - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < 0 {
			return ByteRange{}, false, nil
		}
		if start > end {
			return ByteRange{}, false, ErrUnsatisfiable
		}
	}
	if start > length-1 {
		return ByteRange{}, false, ErrUnsatisfiable
	}
	if end > length-1 {
		end = length - 1
	}
	return ByteRange{Start: start, End: end}, true, nil
}
