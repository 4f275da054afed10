// Package identity tracks the client's own presence on the network: the
// nickname the server currently knows it by and the channels it sits in.
// Handlers mutate it from their Postprocess hook; the dispatcher watches the
// dirty flag and commits after every postprocess pass.
package identity

import (
	"strings"
	"sync"
)

type State struct {
	mut sync.RWMutex

	nick     string
	channels map[string]struct{}

	dirty   bool
	version uint64
}

func CreateState(nick string) *State {
	return &State{
		mut:      sync.RWMutex{},
		nick:     nick,
		channels: make(map[string]struct{}),
	}
}

func (s *State) Nick() string {
	s.mut.RLock()
	defer s.mut.RUnlock()
	return s.nick
}

func (s *State) SetNick(nick string) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.nick == nick {
		return
	}
	s.nick = nick
	s.dirty = true
}

// IsSelf reports whether the given nickname is the client's own,
// case-insensitively.
func (s *State) IsSelf(nick string) bool {
	s.mut.RLock()
	defer s.mut.RUnlock()
	return strings.EqualFold(s.nick, nick)
}

func (s *State) Join(channel string) {
	s.mut.Lock()
	defer s.mut.Unlock()
	key := strings.ToLower(channel)
	if _, has := s.channels[key]; has {
		return
	}
	s.channels[key] = struct{}{}
	s.dirty = true
}

func (s *State) Part(channel string) {
	s.mut.Lock()
	defer s.mut.Unlock()
	key := strings.ToLower(channel)
	if _, has := s.channels[key]; !has {
		return
	}
	delete(s.channels, key)
	s.dirty = true
}

func (s *State) Channels() []string {
	s.mut.RLock()
	defer s.mut.RUnlock()
	channels := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		channels = append(channels, ch)
	}
	return channels
}

func (s *State) Dirty() bool {
	s.mut.RLock()
	defer s.mut.RUnlock()
	return s.dirty
}

// Commit clears the dirty flag and bumps the version, returning the new
// value. Called by the dispatcher once per postprocess pass.
func (s *State) Commit() uint64 {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.dirty {
		s.dirty = false
		s.version++
	}
	return s.version
}

func (s *State) Version() uint64 {
	s.mut.RLock()
	defer s.mut.RUnlock()
	return s.version
}
