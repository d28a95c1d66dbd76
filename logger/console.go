package logger

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

const (
	ansiReset = "\033[0m"
	ansiBlue  = "\033[34m"
)

var levelTags = map[string]struct{ tag, color string }{
	"DEBUG": {"DBG", "\033[36m"},
	"INFO":  {"INF", "\033[32m"},
	"WARN":  {"WRN", "\033[33m"},
	"ERROR": {"ERR", "\033[31m"},
	"FATAL": {"FTL", "\033[35m"},
}

func isConsole(format string) bool {
	switch strings.ToLower(format) {
	case "console", "pretty":
		return true
	}
	return false
}

func paint(s, color string, noColor bool) string {
	if noColor || color == "" {
		return s
	}
	return color + s + ansiReset
}

// consoleWriter renders lines as "15:04:05 [ROW][INF] message key:value".
// The service prefix is the first three letters of its name.
func consoleWriter(out io.Writer, noColor bool, service string) zerolog.ConsoleWriter {
	prefix := ""
	if len(service) >= 3 {
		prefix = paint("["+strings.ToUpper(service[:3])+"]", ansiBlue, noColor)
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		NoColor:    noColor,
		FormatLevel: func(i any) string {
			raw := strings.ToUpper(fmt.Sprint(i))
			lt, ok := levelTags[raw]
			if !ok {
				return prefix + "[" + raw + "]"
			}
			return prefix + paint("["+lt.tag+"]", lt.color, noColor)
		},
		FormatFieldName: func(i any) string { return fmt.Sprint(i) + ":" },
		FormatFieldValue: func(i any) string {
			if i == nil {
				return ""
			}
			return fmt.Sprint(i)
		},
	}
}
