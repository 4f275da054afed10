package wire

import (
	"strings"

	kerrors "github.com/kestrelbot/kestrel/pkg/errors"
)

// LineParser is a minimal prefix/command/params parser, enough for the
// engine and the core handler to operate. It does not attempt to cover the
// full protocol grammar.
type LineParser struct{}

func CreateLineParser() *LineParser {
	return &LineParser{}
}

func (p *LineParser) Parse(line string) (*Event, error) {
	raw := strings.TrimRight(line, "\r\n")
	rest := raw

	if rest == "" {
		return nil, &kerrors.MalformedLine{Reason: "empty line"}
	}

	ev := &Event{Raw: raw}

	if rest[0] == ':' {
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			return nil, &kerrors.MalformedLine{Reason: "prefix with no command"}
		}
		ev.Source, ev.User, ev.Host = ParseSource(rest[1:sp])
		rest = strings.TrimLeft(rest[sp+1:], " ")
	}

	if rest == "" {
		return nil, &kerrors.MalformedLine{Reason: "missing command"}
	}

	var trailing string
	hasTrailing := false
	if idx := strings.Index(rest, " :"); idx >= 0 {
		trailing = rest[idx+2:]
		rest = rest[:idx]
		hasTrailing = true
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return nil, &kerrors.MalformedLine{Reason: "missing command"}
	}

	ev.Type = strings.ToUpper(fields[0])
	ev.Args = fields[1:]
	if hasTrailing {
		ev.Args = append(ev.Args, trailing)
	}

	return ev, nil
}
