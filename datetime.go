package vesper

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/common/model"
)

// Timestamps in query documents use the basic ISO-8601 form, optionally
// with a fractional seconds part: 20150101T000000 or 20150101T000000.999.
const (
	isoBasicLayout     = "20060102T150405"
	isoBasicFracLayout = "20060102T150405.999999999"
)

// ParseTimestamp converts an ISO-8601 basic timestamp string into 10-ns
// ticks since the Unix epoch. RFC3339 input is accepted as well.
func ParseTimestamp(s string) (Timestamp, error) {
	var layouts []string
	if strings.Contains(s, ".") {
		layouts = []string{isoBasicFracLayout, time.RFC3339Nano}
	} else {
		layouts = []string{isoBasicLayout, time.RFC3339}
	}
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		ns := t.UnixNano()
		if ns < 0 {
			return 0, errors.Wrapf(ErrBadData, "timestamp %q predates the epoch", s)
		}
		return Timestamp(ns / 10), nil
	}
	return 0, errors.Wrapf(ErrBadData, "can't parse timestamp %q", s)
}

// ParseDuration converts a duration string like "1s", "500ms" or "5m" into
// 10-ns ticks.
func ParseDuration(s string) (Duration, error) {
	d, err := model.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(ErrBadData, "can't parse duration %q", s)
	}
	return Duration(time.Duration(d).Nanoseconds() / 10), nil
}

// FromTime converts a wall-clock time into a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixNano() / 10)
}

// ToTime converts a Timestamp back into wall-clock time.
func ToTime(ts Timestamp) time.Time {
	return time.Unix(0, int64(ts)*10).UTC()
}
