// Copyright 2019 Jorn Friedrich Dreyer
// Modified 2021 Serhii Mikhno
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger implements github.com/go-logr/logr on top of zerolog
// (github.com/rs/zerolog).
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/go-logr/logr"
	"github.com/rs/zerolog"
)

const (
	debugVerbosity = 1
	traceVerbosity = 2
	timeFormat     = "2006-01-02 15:04:05.000"

	// FormatConsole writes human readable lines.
	FormatConsole = "console"
	// FormatJSON writes one JSON object per line.
	FormatJSON = "json"
)

var (
	mu     sync.RWMutex
	global zerolog.Logger
	gv     int
)

func init() {
	SetGlobalOptions(GlobalConfig{})
}

// GlobalConfig configures every logger that was not given its own zerolog instance.
type GlobalConfig struct {
	// V is the highest logr verbosity that is written. 0 info, 1 debug, 2+ trace.
	V      int    `mapstructure:"v"`
	Format string `mapstructure:"format"`
}

// SetGlobalOptions replaces the shared output and verbosity.
func SetGlobalOptions(c GlobalConfig) {
	setGlobal(c, os.Stdout)
}

func setGlobal(c GlobalConfig, out io.Writer) {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var w io.Writer = out
	if c.Format != FormatJSON {
		w = consoleWriter(out)
	}
	l := zerolog.New(w).With().Timestamp().Logger()

	mu.Lock()
	global = l
	gv = c.V
	mu.Unlock()
}

// Options that can be passed to NewWithOptions
type Options struct {
	// Name is an optional name of the logger
	Name string
	// Logger is an instance of zerolog, if nil the global logger is used
	Logger *zerolog.Logger
	// V overrides the global verbosity when Logger is set.
	V int
}

// New returns a logr.Logger that writes through the global zerolog logger.
func New() logr.Logger {
	return NewWithOptions(Options{})
}

// NewWithOptions returns a logr.Logger which is implemented by zerolog.
func NewWithOptions(opts Options) logr.Logger {
	return logr.New(&sink{
		l:      opts.Logger,
		v:      opts.V,
		prefix: opts.Name,
	})
}

// sink is a logr.LogSink that uses zerolog to log.
type sink struct {
	// l is nil for loggers following the global configuration.
	l      *zerolog.Logger
	v      int
	prefix string
	values []interface{}
}

func (s *sink) base() (*zerolog.Logger, int) {
	if s.l != nil {
		return s.l, s.v
	}
	mu.RLock()
	defer mu.RUnlock()
	l := global
	return &l, gv
}

func (s *sink) Init(logr.RuntimeInfo) {}

func (s *sink) Enabled(level int) bool {
	_, v := s.base()
	return level <= v
}

func (s *sink) Info(level int, msg string, keysAndVals ...interface{}) {
	l, _ := s.base()
	var e *zerolog.Event
	switch {
	case level < debugVerbosity:
		e = l.Info()
	case level < traceVerbosity:
		e = l.Debug()
	default:
		e = l.Trace()
	}
	s.write(e, msg, keysAndVals)
}

func (s *sink) Error(err error, msg string, keysAndVals ...interface{}) {
	l, _ := s.base()
	s.write(l.Error().Err(err), msg, keysAndVals)
}

func (s *sink) write(e *zerolog.Event, msg string, keysAndVals []interface{}) {
	if e == nil {
		return
	}
	if s.prefix != "" {
		e.Str("name", s.prefix)
	}
	add(e, s.values)
	add(e, keysAndVals)
	e.Msg(msg)
}

// WithName returns a new logr.LogSink with the specified name appended. Name
// elements are separated by '/'.
func (s *sink) WithName(name string) logr.LogSink {
	n := s.clone()
	if len(s.prefix) > 0 {
		n.prefix = s.prefix + "/"
	}
	n.prefix += name
	return n
}

func (s *sink) WithValues(kvList ...interface{}) logr.LogSink {
	n := s.clone()
	n.values = append(n.values, kvList...)
	return n
}
