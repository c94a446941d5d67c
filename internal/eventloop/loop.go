/*
Package eventloop is the matchmaking/relay core: a single-threaded,
readiness-multiplexed TCP server. One goroutine owns every socket, every
connection state, and the rule set — nothing here is touched by another
goroutine, so nothing here takes a lock.
*/
package eventloop

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"cableclub/internal/conn"
	"cableclub/internal/matchmaker"
	"cableclub/internal/protocol"
	"cableclub/internal/rules"
	"cableclub/internal/species"
	"cableclub/internal/validate"
)

// rulesRefreshRate is the loop-iteration period of the change-detector poll.
const rulesRefreshRate = 60

// recvChunk is the per-read size, matching the original's s.recv(4096).
const recvChunk = 4096

// sendBufferCap is the backpressure cap from spec §5; a connection whose
// send buffer would grow past this is disconnected rather than left to grow
// unbounded.
const sendBufferCap = 1 << 20

// Config is everything the loop needs at construction, independent of where
// it ends up listening.
type Config struct {
	PBSDir   string
	RulesDir string
	Flags    validate.Flags
}

type client struct {
	fd    int
	state *conn.State
}

// Loop owns the listener, every accepted connection, the species database,
// and the current rule set.
type Loop struct {
	log       *logrus.Logger
	validator *validate.Validator
	metrics   *Metrics

	rulesDir   string
	ruleStamps map[string]time.Time
	ruleSet    *rules.Set

	listenFd int
	clients  map[xid.ID]*client
	byFd     map[int]xid.ID
	loopCnt  int
}

// New loads the species database and the initial rule set, and builds a
// Loop ready to Run. Load failures for the species database are fatal, per
// spec §7's Resource error kind; a missing rules directory is not.
func New(cfg Config, log *logrus.Logger, metrics *Metrics) (*Loop, error) {
	db, err := species.Load(cfg.PBSDir)
	if err != nil {
		return nil, errors.Wrap(err, "load species database")
	}

	stamps, err := rules.Snapshot(cfg.RulesDir)
	if err != nil {
		return nil, errors.Wrap(err, "snapshot rules directory")
	}
	set, err := rules.Load(cfg.RulesDir, stamps)
	if err != nil {
		return nil, errors.Wrap(err, "load rules directory")
	}

	if metrics == nil {
		metrics = NewMetrics()
	}

	return &Loop{
		log:        log,
		validator:  validate.New(db, cfg.Flags, log),
		metrics:    metrics,
		rulesDir:   cfg.RulesDir,
		ruleStamps: stamps,
		ruleSet:    set,
		clients:    make(map[xid.ID]*client),
		byFd:       make(map[int]xid.ID),
		listenFd:   -1,
	}, nil
}

// Each satisfies matchmaker.Directory by exposing the live connection map.
func (l *Loop) Each(f func(xid.ID, *conn.State)) {
	for id, c := range l.clients {
		f(id, c.state)
	}
}

/*
Function Name:  listen
Description:    builds the core TCP listener the way the teacher's
                server_dir/server.go does — raw unix.Socket/Bind/Listen with
                SO_REUSEADDR — then switches it non-blocking for the select
                loop
Parameters:     host: the address to bind, e.g. "0.0.0.0"
                port: the TCP port to bind
Return Value:   the listening fd, or a wrapped bind/listen error
Type:           string, int -> int, error
*/
func listen(host string, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, errors.Wrap(err, "create socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "set SO_REUSEADDR")
	}

	ip := net.ParseIP(host)
	if ip == nil {
		unix.Close(fd)
		return -1, errors.Errorf("invalid host %q", host)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		unix.Close(fd)
		return -1, errors.Errorf("host %q is not an IPv4 address", host)
	}
	var addr unix.SockaddrInet4
	addr.Port = port
	copy(addr.Addr[:], ip4)

	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "bind")
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "listen")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "set listener non-blocking")
	}
	return fd, nil
}

// Run binds host:port and drives the loop until ctx is cancelled or a
// listener-level error occurs. It returns nil on a clean, cancelled
// shutdown.
func (l *Loop) Run(ctx context.Context, host string, port int) error {
	fd, err := listen(host, port)
	if err != nil {
		return err
	}
	l.listenFd = fd
	defer unix.Close(fd)

	if l.log != nil {
		l.log.WithFields(logrus.Fields{"host": host, "port": port}).Info("cable club listening")
	}

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return nil
		default:
		}

		if err := l.tick(); err != nil {
			l.shutdown()
			return err
		}
	}
}

func (l *Loop) shutdown() {
	for id := range l.clients {
		l.disconnect(id, "server error")
	}
	if l.log != nil {
		l.log.Info("cable club stopped")
	}
}

// tick runs exactly one loop iteration: the rule-refresh poll, the
// readiness wait, and the error/write/read phases, in that order (spec
// §4.7). A non-nil return is a fatal listener error.
func (l *Loop) tick() error {
	if l.loopCnt%rulesRefreshRate == 0 {
		l.refreshRules()
		l.loopCnt = 0
	}
	l.loopCnt++

	var readSet, writeSet, errSet unix.FdSet
	fdZero(&readSet)
	fdZero(&writeSet)
	fdZero(&errSet)

	fdSetAdd(&readSet, l.listenFd)
	fdSetAdd(&errSet, l.listenFd)
	nfd := l.listenFd

	for fd, c := range l.byFdClients() {
		fdSetAdd(&readSet, fd)
		fdSetAdd(&errSet, fd)
		if len(c.state.SendBuffer) > 0 {
			fdSetAdd(&writeSet, fd)
		}
		if fd > nfd {
			nfd = fd
		}
	}

	tv := unix.NsecToTimeval(time.Second.Nanoseconds())
	n, err := unix.Select(nfd+1, &readSet, &writeSet, &errSet, &tv)
	if err == unix.EINTR {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "select")
	}
	if n == 0 {
		return nil
	}

	if fdIsSet(&errSet, l.listenFd) {
		return errors.New("error on listening socket")
	}
	for fd, id := range l.fdToID() {
		if fdIsSet(&errSet, fd) {
			l.disconnect(id, "unknown error")
		}
	}

	for fd, id := range l.fdToID() {
		if !fdIsSet(&writeSet, fd) {
			continue
		}
		c, ok := l.clients[id]
		if !ok {
			continue
		}
		n, err := unix.Write(fd, c.state.SendBuffer)
		if err != nil && err != unix.EAGAIN {
			l.disconnect(id, "unknown error")
			continue
		}
		if n <= 0 {
			continue
		}
		c.state.SendBuffer = c.state.SendBuffer[n:]
	}

	if fdIsSet(&readSet, l.listenFd) {
		l.accept()
	}
	for fd, id := range l.fdToID() {
		if fdIsSet(&readSet, fd) {
			l.readClient(id)
		}
	}

	return nil
}

// byFdClients and fdToID snapshot the current map so accept/disconnect
// mutating l.clients mid-phase can't corrupt a live range.
func (l *Loop) byFdClients() map[int]*client {
	out := make(map[int]*client, len(l.clients))
	for fd, id := range l.byFd {
		out[fd] = l.clients[id]
	}
	return out
}

func (l *Loop) fdToID() map[int]xid.ID {
	out := make(map[int]xid.ID, len(l.byFd))
	for fd, id := range l.byFd {
		out[fd] = id
	}
	return out
}

func (l *Loop) refreshRules() {
	newStamps, err := rules.Snapshot(l.rulesDir)
	if err != nil {
		if l.log != nil {
			l.log.WithError(err).Warn("rules snapshot failed, keeping current rule set")
		}
		return
	}
	if newStamps == nil {
		// Snapshot reports a missing directory as nil: keep the current rule set.
		return
	}
	if !rules.Changed(l.ruleStamps, newStamps) {
		return
	}
	set, err := rules.Load(l.rulesDir, newStamps)
	if err != nil {
		if l.log != nil {
			l.log.WithError(err).Warn("rules reload failed, keeping current rule set")
		}
		return
	}
	l.ruleStamps = newStamps
	l.ruleSet = set
	if l.log != nil {
		l.log.WithField("rules", len(set.Rules)).Info("rule set reloaded")
	}
}

func (l *Loop) accept() {
	fd, sa, err := unix.Accept(l.listenFd)
	if err != nil {
		if err != unix.EAGAIN {
			if l.log != nil {
				l.log.WithError(err).Warn("accept failed")
			}
		}
		return
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return
	}

	id := xid.New()
	st := conn.NewConnecting(addrString(sa))
	l.clients[id] = &client{fd: fd, state: st}
	l.byFd[fd] = id
	l.metrics.Connections.Inc()
	if l.log != nil {
		l.log.WithField("conn", st.String()).Info("connect")
	}
}

func addrString(sa unix.Sockaddr) string {
	v4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%d.%d.%d.%d:%d", v4.Addr[0], v4.Addr[1], v4.Addr[2], v4.Addr[3], v4.Port)
}

func (l *Loop) readClient(id xid.ID) {
	c, ok := l.clients[id]
	if !ok {
		return
	}
	buf := make([]byte, recvChunk)
	n, err := unix.Read(c.fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		l.disconnect(id, "unknown error")
		return
	}
	if n == 0 {
		l.disconnect(id, "client disconnected")
		return
	}

	c.state.RecvBuffer = append(c.state.RecvBuffer, buf[:n]...)
	for {
		idx := indexByte(c.state.RecvBuffer, '\n')
		if idx < 0 {
			break
		}
		line := c.state.RecvBuffer[:idx]
		c.state.RecvBuffer = c.state.RecvBuffer[idx+1:]
		decoded := strings.ToValidUTF8(string(line), "�")
		if err := l.dispatch(id, decoded); err != nil {
			if l.log != nil {
				l.log.WithFields(logrus.Fields{"conn": c.state.String(), "stack": string(debug.Stack())}).
					WithError(err).Error("server error")
			}
			l.disconnect(id, "server error")
			return
		}
		// the connection may have been disconnected by its own handler
		// (e.g. "bad assert"); stop draining a state that no longer exists.
		if _, ok := l.clients[id]; !ok {
			return
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// dispatch recovers from any panic in a handler and turns it into a
// "server error" disconnect, per spec §7's Programmer error kind — the
// event loop is the sole recovery frontier.
func (l *Loop) dispatch(id xid.ID, line string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	c, ok := l.clients[id]
	if !ok {
		return nil
	}
	switch c.state.Tag {
	case conn.TagConnecting:
		l.handleConnecting(id, c.state, line)
	case conn.TagFinding:
		l.handleFinding(c.state)
	case conn.TagConnected:
		l.handleConnected(c.state, line)
	}
	return nil
}

// isVersionAccepted is a documented no-op hook: the original never actually
// compares the version string against a game-version constant, and this
// spec does not define one either, so every version is accepted.
func isVersionAccepted(version string) bool {
	_ = version
	return true
}

func (l *Loop) handleConnecting(id xid.ID, st *conn.State, line string) {
	rec := protocol.Parse(line)
	if rec.Str() != "find" {
		l.disconnect(id, "bad assert")
		return
	}
	version := rec.Str()
	peerID := rec.Int()
	name := rec.Str()
	trainerID := rec.Int()
	trainerType := rec.Str()
	winText := rec.Int()
	loseText := rec.Int()
	party := rec.RawAll()
	if rec.Err() != nil {
		l.disconnect(id, "bad assert")
		return
	}
	if !isVersionAccepted(version) {
		l.disconnect(id, "invalid version")
		return
	}

	if l.log != nil {
		l.log.WithFields(logrus.Fields{
			"conn": st.String(), "name": name, "public_id": conn.PublicID(uint32(trainerID)), "peer_id": peerID,
		}).Debug("searching")
	}

	res := l.validator.Validate(protocol.FromFields(party))
	if !res.OK() {
		l.disconnect(id, "invalid party")
		return
	}

	st.ToFinding(conn.Finding{
		PeerID:      peerID,
		Name:        name,
		ID:          uint32(trainerID),
		TrainerType: trainerType,
		Party:       party,
		WinText:     winText,
		LoseText:    loseText,
	})

	peerID2, ok := matchmaker.FindMatch(l, id, st)
	if !ok {
		return
	}
	peer := l.clients[peerID2].state
	matchmaker.Connect(peerID2, peer, id, st, l.ruleSet)
	l.metrics.Matches.Inc()
	if l.log != nil {
		l.log.WithFields(logrus.Fields{"conn": st.String(), "peer": peer.String()}).Info("connected")
	}
	l.capSendBuffer(id)
	l.capSendBuffer(peerID2)
}

func (l *Loop) handleFinding(st *conn.State) {
	if l.log != nil {
		l.log.WithField("conn", st.String()).Info("message dropped (no peer)")
	}
}

func (l *Loop) handleConnected(st *conn.State, line string) {
	peer, ok := l.clients[st.Connected.Peer]
	if !ok {
		if l.log != nil {
			l.log.WithField("conn", st.String()).Info("message dropped (no peer)")
		}
		return
	}
	peer.state.SendBuffer = append(peer.state.SendBuffer, []byte(line+"\n")...)
	l.capSendBuffer(st.Connected.Peer)
}

// capSendBuffer enforces the spec §5 backpressure cap; a buffer that grew
// past it is disconnected rather than allowed to grow without bound.
func (l *Loop) capSendBuffer(id xid.ID) {
	c, ok := l.clients[id]
	if !ok {
		return
	}
	if len(c.state.SendBuffer) > sendBufferCap {
		l.disconnect(id, "server error")
	}
}

/*
Function Name:  disconnect
Description:    removes a connection's state from the map, sends a final
                best-effort "disconnect,<reason>" record, closes the socket,
                and — if the connection was Connected — cascades to the
                peer with reason "peer disconnected"; idempotent, since a
                second call finds nothing in the map
Parameters:     id: the connection's key
                reason: the reason reported to the client and logged
Return Value:   n/a
Type:           xid.ID, string -> n/a
*/
func (l *Loop) disconnect(id xid.ID, reason string) {
	c, ok := l.clients[id]
	if !ok {
		return
	}
	delete(l.clients, id)
	delete(l.byFd, c.fd)

	w := &protocol.Writer{}
	w.Str("disconnect")
	w.Str(reason)
	_, _ = unix.Write(c.fd, w.Line())
	unix.Close(c.fd)

	l.metrics.Disconnects.WithLabelValues(reason).Inc()
	if l.log != nil {
		l.log.WithFields(logrus.Fields{"conn": c.state.String(), "reason": reason}).Info("disconnected")
	}

	if c.state.Tag == conn.TagConnected {
		l.disconnect(c.state.Connected.Peer, "peer disconnected")
	}
}
