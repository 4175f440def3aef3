package tinysip

import (
	"sync"

	"github.com/looplab/fsm"
)

// Call states. A call is one B2BUA context spanning both legs; the state
// tracks the A-leg dialog, with the B-leg driven in lockstep.
const (
	StateIdle          = "idle"
	StateRouting       = "routing"
	StateRinging       = "ringing"
	StateAnswered      = "answered"
	StateConnected     = "connected"
	StateDisconnecting = "disconnecting"
)

const (
	eventInvite  = "invite"
	eventRing    = "ring"
	eventAnswer  = "answer"
	eventAck     = "ack"
	eventCancel  = "cancel"
	eventHangup  = "hangup"
	eventRelease = "release"
)

// Leg identifies which side of a call a message arrived on.
type Leg int

const (
	LegNone Leg = iota
	LegA
	LegB
)

func (l Leg) String() string {
	switch l {
	case LegA:
		return "A"
	case LegB:
		return "B"
	}
	return "none"
}

// LegHeaders are the verbatim header lines stored per leg, used to build
// responses toward that leg and requests on its dialog.
type LegHeaders struct {
	From string
	Via  string
	CSeq string
	To   string
}

func (h LegHeaders) complete() bool {
	return h.From != "" && h.Via != "" && h.CSeq != "" && h.To != ""
}

// MediaState tracks which directions of a leg have seen an SDP.
type MediaState struct {
	LocalMedia  bool
	RemoteMedia bool
}

// bLegPrefix overwrites the first bytes of the A-leg Call-ID to derive the
// B-leg Call-ID, keeping the two trivially correlated.
const bLegPrefix = "b-leg"

// Call is one slot in the call map. The engine locks mu for the whole of
// one message's handling, so leg fields need no finer synchronization.
type Call struct {
	mu     sync.Mutex
	index  int
	active bool
	fsm    *fsm.FSM

	ALegUUID string
	BLegUUID string

	ALegAddr Addr
	BLegAddr Addr

	ALegHeaders LegHeaders
	BLegHeaders LegHeaders

	ALegContact string
	BLegContact string

	ALegMedia MediaState
	BLegMedia MediaState

	Caller string
	Callee string
}

func newCall(index int) *Call {
	c := &Call{index: index}
	c.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventInvite, Src: []string{StateIdle}, Dst: StateRouting},
			{Name: eventRing, Src: []string{StateRouting, StateRinging}, Dst: StateRinging},
			{Name: eventAnswer, Src: []string{StateRouting, StateRinging}, Dst: StateAnswered},
			{Name: eventAck, Src: []string{StateAnswered}, Dst: StateConnected},
			{Name: eventCancel, Src: []string{StateRouting, StateRinging}, Dst: StateDisconnecting},
			{Name: eventHangup, Src: []string{StateConnected}, Dst: StateDisconnecting},
			{Name: eventRelease, Src: []string{
				StateRouting, StateRinging, StateAnswered, StateConnected, StateDisconnecting,
			}, Dst: StateIdle},
		},
		fsm.Callbacks{},
	)
	return c
}

// State returns the current FSM state name.
func (c *Call) State() string {
	return c.fsm.Current()
}

// reset clears a slot for reuse, keeping only its index.
func (c *Call) reset() {
	c.active = false
	c.ALegUUID = ""
	c.BLegUUID = ""
	c.ALegAddr = Addr{}
	c.BLegAddr = Addr{}
	c.ALegHeaders = LegHeaders{}
	c.BLegHeaders = LegHeaders{}
	c.ALegContact = ""
	c.BLegContact = ""
	c.ALegMedia = MediaState{}
	c.BLegMedia = MediaState{}
	c.Caller = ""
	c.Callee = ""
	c.fsm.SetState(StateIdle)
}

// bLegUUID derives the B-leg Call-ID by overwriting the head of the A-leg
// one with the b-leg prefix.
func bLegUUID(callID string) string {
	if len(callID) <= len(bLegPrefix) {
		return bLegPrefix
	}
	return bLegPrefix + callID[len(bLegPrefix):]
}
