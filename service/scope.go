package service

import "fmt"

// SessionScope selects which sessions share read sequence counters.
type SessionScope uint8

const (
	// ScopeConnection gives every accepted connection fresh counters.
	ScopeConnection SessionScope = iota
	// ScopePeer shares counters between connections from the same host.
	ScopePeer
	// ScopeProcess shares one set of counters between all connections.
	ScopeProcess
)

var scopeNames = []string{
	ScopeConnection: "connection",
	ScopePeer:       "peer",
	ScopeProcess:    "process",
}

func (s SessionScope) String() string {
	if int(s) < len(scopeNames) {
		return scopeNames[s]
	}
	return fmt.Sprintf("SessionScope(%d)", s)
}

// ParseSessionScope parses the name of a session scope.
func ParseSessionScope(name string) (SessionScope, error) {
	for i, n := range scopeNames {
		if n == name {
			return SessionScope(i), nil
		}
	}
	return ScopeConnection, fmt.Errorf("unknown session scope %q (valid values: connection, peer, process)", name)
}

// Set implements pflag.Value.
func (s *SessionScope) Set(name string) error {
	v, err := ParseSessionScope(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Type implements pflag.Value.
func (s *SessionScope) Type() string {
	return "scope"
}
