// Package obs holds the observability seams shared by wirekit's server
// and client transport: a leveled Logf-style logger and a
// counter/histogram meter. Both default to no-ops so the library stays
// silent until the application plugs something in; ZerologLogger is the
// structured option.
package obs

import "log"

// Level orders log severities from chattiest to loudest.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < Debug || l > Error {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// Logger receives formatted log lines from servers and transports.
type Logger interface {
	Logf(level Level, format string, args ...interface{})
}

// NopLogger drops every line.
type NopLogger struct{}

func (NopLogger) Logf(Level, string, ...interface{}) {}

// StdLogger writes through a standard library logger, dropping lines
// below Min. Pref, when set, leads every line.
type StdLogger struct {
	L    *log.Logger
	Min  Level
	Pref string
}

func (s StdLogger) Logf(level Level, format string, args ...interface{}) {
	if s.L == nil || level < s.Min {
		return
	}
	lead := "[" + level.String() + "] "
	if s.Pref != "" {
		lead = s.Pref + lead
	}
	s.L.Printf(lead+format, args...)
}
