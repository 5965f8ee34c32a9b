package vesper

// Timestamp is a count of 10-nanosecond intervals since the Unix epoch.
// It is unsigned so it does not suffer from the year-2038 problem.
type Timestamp uint64

// Duration is a span of time in the same 10-nanosecond units as Timestamp.
type Duration uint64

// TicksPerSecond is the number of Timestamp units in one second.
const TicksPerSecond = 100000000

const (
	// MinTimestamp is used as the minimum time value when computing an
	// unbounded range.
	MinTimestamp = Timestamp(0)

	// MaxTimestamp is used as the maximum time value when computing an
	// unbounded range.
	MaxTimestamp = Timestamp(1<<64 - 1)
)

// ParamID is the stable numeric identity of a series within the catalog.
// Zero means "no such series"; nonzero ids are assigned monotonically and
// never reused within a process.
type ParamID uint64

// PayloadType is a bitset describing what a sample carries.
type PayloadType uint8

const (
	// PayloadEmpty marks a group-by bucket boundary. The sample carries
	// no value and no id.
	PayloadEmpty PayloadType = 0

	// PayloadFloat is set when the sample carries a 64-bit float value.
	PayloadFloat PayloadType = 1 << 0

	// PayloadParamID is set when the sample carries a series id.
	PayloadParamID PayloadType = 1 << 1

	// PayloadMargin marks an internal non-data event. Terminal nodes
	// swallow margin samples.
	PayloadMargin PayloadType = 1 << 2
)

// Payload is the value part of a sample.
type Payload struct {
	Type  PayloadType
	Value float64
}

// Sample is a single element of a series data stream.
type Sample struct {
	Timestamp Timestamp
	ParamID   ParamID
	Payload   Payload
}

// NewSample returns a data sample carrying a float value.
func NewSample(ts Timestamp, id ParamID, value float64) Sample {
	return Sample{
		Timestamp: ts,
		ParamID:   id,
		Payload:   Payload{Type: PayloadFloat | PayloadParamID, Value: value},
	}
}

// NewMarkerSample returns an EMPTY sample marking a bucket boundary at ts.
func NewMarkerSample(ts Timestamp) Sample {
	return Sample{Timestamp: ts}
}

// NewIDSample returns an id-only sample, used by metadata queries.
func NewIDSample(id ParamID) Sample {
	return Sample{ParamID: id, Payload: Payload{Type: PayloadParamID}}
}

// IsMarker reports whether the sample is an EMPTY bucket-boundary marker.
func (s Sample) IsMarker() bool { return s.Payload.Type == PayloadEmpty }

// IsMargin reports whether the sample is an internal margin event.
func (s Sample) IsMargin() bool { return s.Payload.Type&PayloadMargin != 0 }
