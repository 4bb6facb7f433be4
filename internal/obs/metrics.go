package obs

// Label tags a measurement with one dimension, e.g. the method or
// status of a request.
type Label struct {
	Key   string
	Value string
}

// L is call-site shorthand for building a Label.
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}

// Meter receives the counters and latency histograms wirekit emits:
// request/response totals, parse failures, panics, connection dials and
// pooled reuse. Implementations bridge to whatever metrics system the
// application runs.
type Meter interface {
	Counter(name string, value float64, labels ...Label)
	Histogram(name string, value float64, labels ...Label)
}

// NopMeter discards every measurement.
type NopMeter struct{}

func (NopMeter) Counter(string, float64, ...Label)   {}
func (NopMeter) Histogram(string, float64, ...Label) {}
