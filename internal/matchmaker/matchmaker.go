/*
Package matchmaker indexes the Finding connections and pairs compatible
clients. At the expected scale (tens to low hundreds of concurrent clients)
a linear scan over all Finding connections on each new "find" suffices — no
separate rendezvous index is built.
*/
package matchmaker

import (
	"github.com/rs/xid"

	"cableclub/internal/conn"
	"cableclub/internal/protocol"
	"cableclub/internal/rules"
)

// Directory is the minimal view of the connection map the matchmaker needs:
// enough to scan Finding connections and to enqueue bytes to a peer's send
// buffer. The event loop owns the real map; this interface keeps the
// matchmaker from needing to know about fds, sockets, or the loop itself.
type Directory interface {
	Each(func(id xid.ID, st *conn.State))
}

/*
Function Name:  FindMatch
Description:    scans every Finding connection for one compatible with the
                candidate that just transitioned to Finding; a pairing is
                valid iff public_id(Y.ID) == X.PeerID, Y.PeerID ==
                public_id(X.ID), and X != Y
Parameters:     dir: the connection directory to scan
                candidateID: the candidate's own key in the directory
                candidate: the candidate's Finding state
Return Value:   the matched peer's key, and true, or false if none qualify
Type:           Directory, xid.ID, *conn.State -> xid.ID, bool
*/
func FindMatch(dir Directory, candidateID xid.ID, candidate *conn.State) (xid.ID, bool) {
	var (
		matchID xid.ID
		matched bool
	)
	dir.Each(func(id xid.ID, st *conn.State) {
		if matched || id == candidateID {
			return
		}
		if st.Tag != conn.TagFinding {
			return
		}
		if conn.PublicID(st.Finding.ID) != candidate.Finding.PeerID {
			return
		}
		if st.Finding.PeerID != conn.PublicID(candidate.Finding.ID) {
			return
		}
		matchID = id
		matched = true
	})
	return matchID, matched
}

/*
Function Name:  Connect
Description:    assembles and enqueues a "found" record to each side's send
                buffer (peer's name/trainertype/win-text/lose-text/party,
                then the rule set), then transitions both states to
                Connected; does not flush — the event loop sends on the next
                writable signal
Parameters:     aID, a: one side's key and state
                bID, b: the other side's key and state
                set: the current rule set to ship
Return Value:   n/a
Type:           xid.ID, *conn.State, xid.ID, *conn.State, *rules.Set -> n/a
*/
func Connect(aID xid.ID, a *conn.State, bID xid.ID, b *conn.State, set *rules.Set) {
	enqueueFound(a, 0, b.Finding, set)
	enqueueFound(b, 1, a.Finding, set)

	a.ToConnected(bID)
	b.ToConnected(aID)
}

func enqueueFound(dst *conn.State, side int, peer conn.Finding, set *rules.Set) {
	w := &protocol.Writer{}
	w.Str("found")
	w.Int(side)
	w.Str(peer.Name)
	w.Str(peer.TrainerType)
	w.Int(peer.WinText)
	w.Int(peer.LoseText)
	w.Raw(peer.Party)
	w.Int(len(set.Rules))
	for _, r := range set.Rules {
		w.Raw(r)
	}
	dst.SendBuffer = append(dst.SendBuffer, w.Line()...)
}
