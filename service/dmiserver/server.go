// Package dmiserver serves a debug module over the DMI socket protocol.
package dmiserver

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/dmisim/dmisim/pkg/dm"
	"github.com/dmisim/dmisim/pkg/logflags"
	"github.com/dmisim/dmisim/service"
)

// ServerImpl accepts DMI socket connections and serves each of them from
// its own goroutine.
type ServerImpl struct {
	// config is all the information necessary to start the server.
	config *service.Config
	// listener is used to accept client connections.
	listener net.Listener
	// stopChan is closed when the server is stopped.
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	module   *dm.DebugModule
	log      logflags.Logger

	mu       sync.Mutex
	sessions map[*session]struct{}
	// shared holds the sequence counters of ScopeProcess.
	shared *dm.SequenceState
	// peers maps remote hosts to sequence counters for ScopePeer.
	peers *lru.Cache
}

var _ service.Server = &ServerImpl{}

// NewServer creates a server for config. It takes ownership of
// config.Listener. A nil config.Module is replaced with a debug module in
// its reset state.
func NewServer(config *service.Config) (*ServerImpl, error) {
	if config.Listener == nil {
		return nil, errors.New("no listener")
	}
	s := &ServerImpl{
		config:   config,
		listener: config.Listener,
		stopChan: make(chan struct{}),
		module:   config.Module,
		log:      logflags.ServerLogger(),
		sessions: make(map[*session]struct{}),
	}
	if s.module == nil {
		s.module = dm.New(dm.Config{})
	}
	switch config.SessionScope {
	case service.ScopeConnection:
	case service.ScopeProcess:
		s.shared = dm.NewSequenceState()
	case service.ScopePeer:
		size := config.PeerCacheSize
		if size <= 0 {
			size = service.DefaultPeerCacheSize
		}
		peers, err := lru.NewWithEvict(size, func(key, _ interface{}) {
			s.log.Debugf("forgetting read counters of %v", key)
		})
		if err != nil {
			return nil, err
		}
		s.peers = peers
	default:
		return nil, fmt.Errorf("unknown session scope %s", config.SessionScope)
	}
	return s, nil
}

// Module returns the debug module served by s.
func (s *ServerImpl) Module() *dm.DebugModule {
	return s.module
}

// Run starts the accept loop and returns immediately. Use Stop to close
// the listener.
func (s *ServerImpl) Run() error {
	logflags.WriteListeningMessage(s.listener.Addr().String())
	s.log.Debugf("session scope %s", s.config.SessionScope)
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *ServerImpl) acceptLoop() {
	defer s.wg.Done()
	defer s.signalDisconnect()
	var tempDelay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				// We were supposed to exit, do nothing and return
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else if tempDelay *= 2; tempDelay > time.Second {
				tempDelay = time.Second
			}
			s.log.Errorf("Error accepting client connection: %v; retrying in %v", err, tempDelay)
			select {
			case <-time.After(tempDelay):
			case <-s.stopChan:
				return
			}
			continue
		}
		tempDelay = 0
		sess := s.newSession(conn)
		if !s.track(sess) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(sess)
			sess.serve()
		}()
	}
}

// sequenceFor returns the read counters to use for a connection from
// remote.
func (s *ServerImpl) sequenceFor(remote net.Addr) *dm.SequenceState {
	switch s.config.SessionScope {
	case service.ScopeProcess:
		return s.shared
	case service.ScopePeer:
		host := peerHost(remote)
		s.mu.Lock()
		defer s.mu.Unlock()
		if v, ok := s.peers.Get(host); ok {
			return v.(*dm.SequenceState)
		}
		seq := dm.NewSequenceState()
		s.peers.Add(host, seq)
		return seq
	}
	return dm.NewSequenceState()
}

func peerHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// track registers sess, it returns false if the server is stopping.
func (s *ServerImpl) track(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stopChan:
		return false
	default:
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *ServerImpl) untrack(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// Sessions returns the number of open sessions.
func (s *ServerImpl) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// signalDisconnect closes config.DisconnectChan if not nil.
func (s *ServerImpl) signalDisconnect() {
	if s.config.DisconnectChan != nil {
		close(s.config.DisconnectChan)
		s.config.DisconnectChan = nil
	}
}

// Stop closes the listener and every open session and waits for their
// goroutines to exit. Calling Stop more than once is harmless.
func (s *ServerImpl) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.stopChan)
		for sess := range s.sessions {
			sess.conn.Close()
		}
		s.mu.Unlock()
		if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		s.wg.Wait()
	})
	return err
}

func (s *ServerImpl) stopping() bool {
	select {
	case <-s.stopChan:
		return true
	default:
		return false
	}
}
