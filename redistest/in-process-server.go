package redistest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// InProcessServer is a Redis server that runs in the same process as the
// test suite, letting us inspect stored keys. You must initialize this via
// NewInProcessServer.
type InProcessServer struct {
	*miniredis.Miniredis
	t *testing.T
}

// NewInProcessServer starts a server on a random local port. It's shut down
// automatically when the test finishes.
func NewInProcessServer(t *testing.T) *InProcessServer {
	t.Helper()
	return &InProcessServer{
		Miniredis: miniredis.RunT(t),
		t:         t,
	}
}

// Address returns the host:port of the test server
func (s *InProcessServer) Address() string {
	return s.Miniredis.Addr()
}

// Host and Port split Address for configs that take them separately
func (s *InProcessServer) Host() string {
	return s.Miniredis.Host()
}

func (s *InProcessServer) Port() string {
	return s.Miniredis.Port()
}

// NewClient returns a go-redis client connected to the server. It's closed
// when the test finishes.
func (s *InProcessServer) NewClient() *redis.Client {
	c := redis.NewClient(&redis.Options{Addr: s.Address()})
	s.t.Cleanup(func() {
		c.Close()
	})
	return c
}

// ZMembers returns the members of a sorted set from the lowest score to the
// highest. A missing key yields an empty slice.
func (s *InProcessServer) ZMembers(key string) []string {
	if !s.Exists(key) {
		return []string{}
	}
	m, err := s.Miniredis.ZMembers(key)
	if err != nil {
		s.t.Fatalf("can't read sorted set %q: %v", key, err)
	}
	return m
}

// ListValues returns a list from head to tail. A missing key yields an
// empty slice.
func (s *InProcessServer) ListValues(key string) []string {
	if !s.Exists(key) {
		return []string{}
	}
	l, err := s.Miniredis.List(key)
	if err != nil {
		s.t.Fatalf("can't read list %q: %v", key, err)
	}
	return l
}

// SetMembers returns the members of a set, sorted. A missing key yields an
// empty slice.
func (s *InProcessServer) SetMembers(key string) []string {
	if !s.Exists(key) {
		return []string{}
	}
	m, err := s.Miniredis.Members(key)
	if err != nil {
		s.t.Fatalf("can't read set %q: %v", key, err)
	}
	return m
}
