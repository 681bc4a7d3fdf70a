package server

import (
	"time"

	"chatalk/protocol"
)

// superviseIdle watches one session for inactivity. The timer is re-armed
// on every processed line and the goroutine otherwise sleeps, so an idle
// connection costs nothing.
func (s *Server) superviseIdle(sess *Session) {
	timer := time.NewTimer(s.config.IdleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-sess.activity:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(s.config.IdleTimeout)
		case <-timer.C:
			s.forceLogout(sess)
			return
		}
	}
}

// forceLogout synthesizes the server-initiated logout sequence. The session
// loop owns the connection's reader, so instead of reading the client's
// acknowledgement here, the read deadline is shortened: the blocked read
// wakes up with either the ack line or a timeout, sees the expired flag and
// tears the session down.
func (s *Server) forceLogout(sess *Session) {
	s.log.Info("idle timeout, forcing logout", "user", sess.user(), "remote", sess.remoteAddr())

	sess.expired.Store(true)
	sess.send(protocol.CmdLogout, protocol.StatusLoggedOut)
	sess.conn.SetReadDeadline(time.Now().Add(s.config.AckWait))
}
