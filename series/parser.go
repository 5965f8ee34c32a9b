package series

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"

	"github.com/vesperdb/vesper"
)

// A series name in canonical form is the metric followed by its key=value
// pairs sorted lexicographically by key, single-space delimited:
//
//	cpu host=127.0.0.1 region=europe
//
// Two names identify the same series iff their canonical forms are
// byte-identical.

// ToNormalForm writes the canonical form of name into out. It returns the
// number of bytes written and the offset of the tag portion within out
// (equal to the written length when the name has no tags).
//
// Malformed input (a bare token without '=', an invalid character, too
// many tags, or a name over the length limit) fails with ErrBadData. An
// undersized output buffer fails with ErrBadArg.
func ToNormalForm(name, out []byte) (n int, tagsAt int, err error) {
	if len(name) > vesper.MaxSeriesNameLen {
		return 0, 0, errors.Wrap(vesper.ErrBadData, "series name is too long")
	}
	if len(out) < len(name) {
		return 0, 0, errors.Wrap(vesper.ErrBadArg, "output buffer is too small")
	}

	p := skipSpace(name)
	metricLen := tokenLen(p)
	if metricLen == 0 {
		return 0, 0, errors.Wrap(vesper.ErrBadData, "empty series name")
	}
	if !validToken(p[:metricLen]) {
		return 0, 0, errors.Wrapf(vesper.ErrBadData, "invalid metric name %q", p[:metricLen])
	}
	metric := p[:metricLen]
	p = skipSpace(p[metricLen:])

	var tags [][]byte
	for len(p) > 0 {
		if len(tags) == vesper.MaxTags {
			return 0, 0, errors.Wrap(vesper.ErrBadData, "too many tags")
		}
		tl := tokenLen(p)
		tag := p[:tl]
		eq := bytes.IndexByte(tag, '=')
		if eq <= 0 || eq == len(tag)-1 {
			return 0, 0, errors.Wrapf(vesper.ErrBadData, "invalid tag %q", tag)
		}
		if !validToken(tag[:eq]) || !validToken(tag[eq+1:]) {
			return 0, 0, errors.Wrapf(vesper.ErrBadData, "invalid tag %q", tag)
		}
		tags = append(tags, tag)
		p = skipSpace(p[tl:])
	}

	sort.SliceStable(tags, func(i, j int) bool {
		return bytes.Compare(keyOf(tags[i]), keyOf(tags[j])) < 0
	})

	n = copy(out, metric)
	tagsAt = n
	for i, tag := range tags {
		out[n] = ' '
		n++
		if i == 0 {
			tagsAt = n
		}
		n += copy(out[n:], tag)
	}
	if len(tags) == 0 {
		tagsAt = n
	}
	return n, tagsAt, nil
}

// SplitTags returns the key=value pairs of a canonical series name.
func SplitTags(canonical []byte) [][]byte {
	fields := bytes.Split(canonical, []byte{' '})
	if len(fields) < 2 {
		return nil
	}
	return fields[1:]
}

// Metric returns the metric portion of a canonical series name.
func Metric(canonical []byte) []byte {
	if i := bytes.IndexByte(canonical, ' '); i >= 0 {
		return canonical[:i]
	}
	return canonical
}

func skipSpace(p []byte) []byte {
	for len(p) > 0 && (p[0] == ' ' || p[0] == '\t') {
		p = p[1:]
	}
	return p
}

func tokenLen(p []byte) int {
	for i := range p {
		if p[i] == ' ' || p[i] == '\t' {
			return i
		}
	}
	return len(p)
}

func keyOf(tag []byte) []byte {
	if i := bytes.IndexByte(tag, '='); i >= 0 {
		return tag[:i]
	}
	return tag
}

func validToken(tok []byte) bool {
	if len(tok) == 0 {
		return false
	}
	for _, c := range tok {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}
