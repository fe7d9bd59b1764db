package logger

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	output := zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: timeFormat}
	output.FormatTimestamp = func(i interface{}) string {
		return fmt.Sprintf("[%v]", i)
	}
	output.FormatLevel = func(i interface{}) string {
		return strings.ToUpper(fmt.Sprintf("[%-5s]", i))
	}
	return output
}

func (s *sink) clone() *sink {
	out := *s
	out.values = copySlice(s.values)
	return &out
}

func copySlice(in []interface{}) []interface{} {
	out := make([]interface{}, len(in))
	copy(out, in)
	return out
}

// add converts a bunch of arbitrary key-value pairs into zerolog fields.
func add(e *zerolog.Event, keysAndVals []interface{}) {
	// make sure we got an even number of arguments
	if len(keysAndVals)%2 != 0 {
		e.Interface("args", keysAndVals).
			AnErr("zerologr-err", errors.New("odd number of arguments passed as key-value pairs for logging"))
		return
	}

	for i := 0; i < len(keysAndVals); i += 2 {
		key, val := keysAndVals[i], keysAndVals[i+1]
		keyStr, isString := key.(string)
		if !isString {
			e.Interface("invalid key", key).
				AnErr("zerologr-err", errors.New("non-string key argument passed to logging, ignoring all later arguments"))
			return
		}
		switch v := val.(type) {
		case string:
			e.Str(keyStr, v)
		case fmt.Stringer:
			e.Str(keyStr, v.String())
		case error:
			e.AnErr(keyStr, v)
		default:
			e.Interface(keyStr, val)
		}
	}
}
