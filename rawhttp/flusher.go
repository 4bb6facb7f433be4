package rawhttp

// Flusher is implemented by ResponseWriters that can push buffered data
// to the client immediately.
type Flusher interface {
	Flush() error
}

// Flush flushes w if it supports flushing, and reports whether it did.
func Flush(w ResponseWriter) (bool, error) {
	f, ok := w.(Flusher)
	if !ok {
		return false, nil
	}
	return true, f.Flush()
}
