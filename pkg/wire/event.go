// Package wire holds the parsed-event type exchanged between the transport
// layer and handlers, plus a minimal line parser. The full protocol grammar
// lives outside this module; anything satisfying Parser can be plugged in.
package wire

import "strings"

// Event is one parsed inbound line. Immutable once produced by a Parser.
type Event struct {
	// Raw is the line exactly as received, without the trailing CRLF.
	Raw string

	// Source is the prefix of the line: a nickname, or a server name for
	// server-originated events. Empty when the line carried no prefix.
	Source string
	User   string
	Host   string

	// Type is the command tag the dispatcher and scheduler key on:
	// "PRIVMSG", "PING", "433", ...
	Type string

	Args []string
}

// SourceNick returns the nickname portion of the source prefix.
func (ev *Event) SourceNick() string {
	return ev.Source
}

// LastArg returns the final argument (usually the trailing text), or an
// empty string when the event carried no arguments.
func (ev *Event) LastArg() string {
	if len(ev.Args) == 0 {
		return ""
	}
	return ev.Args[len(ev.Args)-1]
}

// Parser turns one raw line into an Event.
type Parser interface {
	Parse(line string) (*Event, error)
}

// ParseSource splits a full "nick!user@host" prefix into its parts.
func ParseSource(prefix string) (nick, user, host string) {
	nick = prefix
	if at := strings.IndexByte(nick, '@'); at >= 0 {
		host = nick[at+1:]
		nick = nick[:at]
	}
	if bang := strings.IndexByte(nick, '!'); bang >= 0 {
		user = nick[bang+1:]
		nick = nick[:bang]
	}
	return nick, user, host
}
