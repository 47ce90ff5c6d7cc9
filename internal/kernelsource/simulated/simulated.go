// Package simulated is an in-process kernelsource.Source double. It lets
// the demultiplexer, policy engine, history store and detection engine be
// exercised end to end without a real EndpointSecurity client, the same
// role the teacher's ringbuf mock mode plays for its eBPF collaborator.
package simulated

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sentineledr/core/internal/kernelsource"
	"github.com/sentineledr/core/internal/model"
)

type subscription struct {
	kinds   map[model.EventKind]struct{}
	handler func(kernelsource.Message)
}

type eventMute struct {
	kind   model.EventKind
	prefix string
}

// Source is a test double for kernelsource.Source. Tests call Emit to
// inject events and Responses to observe how the demultiplexer/policy
// engine responded to AUTH events.
type Source struct {
	mu          sync.Mutex
	subs        map[string]*subscription
	mutedPaths  map[string]struct{}
	mutedPIDs   map[int32]struct{}
	eventMutes  []eventMute
	nextHandle  int
	responses   []recordedResponse
}

type recordedResponse struct {
	Message   kernelsource.Message
	Verdict   kernelsource.AuthVerdict
	Flags     kernelsource.AuthFlags
	Cache     bool
	UsedFlags bool
}

func New() *Source {
	return &Source{
		subs:       make(map[string]*subscription),
		mutedPaths: make(map[string]struct{}),
		mutedPIDs:  make(map[int32]struct{}),
	}
}

func (s *Source) Subscribe(_ context.Context, kinds []model.EventKind, handler func(kernelsource.Message)) (kernelsource.ClientHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextHandle++
	id := fmt.Sprintf("sim-%d", s.nextHandle)
	set := make(map[model.EventKind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	s.subs[id] = &subscription{kinds: set, handler: handler}
	return kernelsource.NewClientHandle(id), nil
}

func (s *Source) Unsubscribe(h kernelsource.ClientHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, h.String())
	return nil
}

func (s *Source) Mute(_ kernelsource.ClientHandle, processPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutedPaths[processPath] = struct{}{}
	return nil
}

func (s *Source) MutePID(_ kernelsource.ClientHandle, pid int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutedPIDs[pid] = struct{}{}
	return nil
}

func (s *Source) MuteEventKind(_ kernelsource.ClientHandle, kind model.EventKind, pathPrefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventMutes = append(s.eventMutes, eventMute{kind: kind, prefix: pathPrefix})
	return nil
}

func (s *Source) RespondAuth(m kernelsource.Message, verdict kernelsource.AuthVerdict, cache bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, recordedResponse{Message: m, Verdict: verdict, Cache: cache})
	return nil
}

func (s *Source) RespondAuthFlags(m kernelsource.Message, flags kernelsource.AuthFlags, cache bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, recordedResponse{Message: m, Flags: flags, Cache: cache, UsedFlags: true})
	return nil
}

// Emit delivers a message to every subscriber registered for its kind,
// unless the message's process path or PID has been muted, either
// globally or for this specific event kind.
func (s *Source) Emit(m kernelsource.Message) {
	s.mu.Lock()
	if _, muted := s.mutedPaths[m.ProcessPath]; muted {
		s.mu.Unlock()
		return
	}
	if _, muted := s.mutedPIDs[m.PID]; muted {
		s.mu.Unlock()
		return
	}
	for _, em := range s.eventMutes {
		if em.kind == m.Kind && strings.HasPrefix(m.ProcessPath, em.prefix) {
			s.mu.Unlock()
			return
		}
	}
	handlers := make([]func(kernelsource.Message), 0, len(s.subs))
	for _, sub := range s.subs {
		if _, ok := sub.kinds[m.Kind]; ok {
			handlers = append(handlers, sub.handler)
		}
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(m)
	}
}

// Responses returns every AUTH response recorded so far, for test
// assertions.
func (s *Source) Responses() []kernelsource.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]kernelsource.Message, 0, len(s.responses))
	for _, r := range s.responses {
		out = append(out, r.Message)
	}
	return out
}

// LastVerdict returns the verdict of the most recent boolean AUTH response,
// and whether any such response has been recorded.
func (s *Source) LastVerdict() (kernelsource.AuthVerdict, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.responses) - 1; i >= 0; i-- {
		if !s.responses[i].UsedFlags {
			return s.responses[i].Verdict, true
		}
	}
	return false, false
}

// LastFlags returns the flags of the most recent flags-based AUTH
// response, and whether any such response has been recorded.
func (s *Source) LastFlags() (kernelsource.AuthFlags, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.responses) - 1; i >= 0; i-- {
		if s.responses[i].UsedFlags {
			return s.responses[i].Flags, true
		}
	}
	return 0, false
}

// LastCache returns the cache hint of the most recent AUTH response of
// either ABI, and whether any response has been recorded.
func (s *Source) LastCache() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return false, false
	}
	return s.responses[len(s.responses)-1].Cache, true
}

// MutedPIDs exposes the muted-PID set for tests verifying self-muting.
func (s *Source) MutedPIDs() map[int32]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int32]struct{}, len(s.mutedPIDs))
	for pid := range s.mutedPIDs {
		out[pid] = struct{}{}
	}
	return out
}
