package dmiserver

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/dmisim/dmisim/pkg/dm"
	"github.com/dmisim/dmisim/pkg/dmi"
	"github.com/dmisim/dmisim/pkg/logflags"
)

const readBufferSize = 512

// session serves one client connection.
type session struct {
	s    *ServerImpl
	conn net.Conn
	seq  *dm.SequenceState
	dec  *dmi.Decoder
	log  logflags.Logger
	wire logflags.Logger
}

func (s *ServerImpl) newSession(conn net.Conn) *session {
	remote := conn.RemoteAddr().String()
	return &session{
		s:    s,
		conn: conn,
		seq:  s.sequenceFor(conn.RemoteAddr()),
		dec:  dmi.NewDecoder(),
		log:  s.log.WithField("remote", remote),
		wire: logflags.WireLogger().WithField("remote", remote),
	}
}

// Read implements dmi.Target using the counters of this session.
func (sess *session) Read(addr uint32) (uint32, error) {
	return sess.s.module.Read(sess.seq, addr)
}

// Write implements dmi.Target.
func (sess *session) Write(addr, value uint32) {
	sess.s.module.Write(addr, value)
}

// serve reads requests until the peer disconnects, the session idles out
// or the server is stopped.
func (sess *session) serve() {
	defer sess.conn.Close()
	sess.log.Debug("session started")

	buf := make([]byte, readBufferSize)
	var out []byte
	for {
		if d := sess.s.config.IdleTimeout; d > 0 {
			sess.conn.SetReadDeadline(time.Now().Add(d))
		}
		n, err := sess.conn.Read(buf)
		if n > 0 {
			if logflags.Wire() {
				sess.wire.Debugf("<- % x", buf[:n])
			}
			out = out[:0]
			for _, req := range sess.dec.Feed(buf[:n]) {
				out = sess.handle(req).AppendTo(out)
			}
			if len(out) > 0 {
				if werr := sess.send(out); werr != nil {
					if !sess.s.stopping() {
						sess.log.Errorf("writing response: %v", werr)
					}
					return
				}
			}
		}
		if err != nil {
			sess.finish(err)
			return
		}
	}
}

func (sess *session) handle(req dmi.Request) dmi.Response {
	if err := req.Err(); err != nil {
		sess.log.Warnf("%v", err)
		return dmi.Error()
	}
	resp := dmi.Dispatch(sess, req)
	if resp.Status != dmi.StatusOK {
		sess.log.Debugf("%s failed", req)
	}
	return resp
}

func (sess *session) send(out []byte) error {
	if d := sess.s.config.WriteTimeout; d > 0 {
		sess.conn.SetWriteDeadline(time.Now().Add(d))
	}
	if logflags.Wire() {
		sess.wire.Debugf("-> % x", out)
	}
	_, err := sess.conn.Write(out)
	return err
}

// finish logs why the read loop ended.
func (sess *session) finish(err error) {
	var nerr net.Error
	switch {
	case err == io.EOF:
		sess.log.Debug("session closed by peer")
	case sess.s.stopping():
		sess.log.Debug("session closed by server")
	case errors.As(err, &nerr) && nerr.Timeout():
		sess.log.Infof("closing idle session after %v", sess.s.config.IdleTimeout)
	default:
		sess.log.Errorf("session error: %v", err)
	}
	if n := sess.dec.Buffered(); n > 0 {
		sess.log.Debugf("discarding %d bytes of an incomplete frame", n)
	}
}
