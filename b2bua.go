package tinysip

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/tinysip/tinysip/sip"
)

var userAgentHeader = "User-Agent: " + sip.UserAgent

// Engine is the back-to-back user agent. It correlates the two legs of
// each call through the call map and drives the per-call state machine,
// forwarding SDP bodies between the legs verbatim.
type Engine struct {
	calls     *CallMap
	locations *LocationTable
	registrar *Registrar
	sender    Sender
	builder   sip.Builder
	metrics   *Metrics
	cseq      atomic.Int64
	log       zerolog.Logger
}

func NewEngine(cfg *Config, calls *CallMap, locations *LocationTable, registrar *Registrar, sender Sender, metrics *Metrics, log zerolog.Logger) *Engine {
	return &Engine{
		calls:     calls,
		locations: locations,
		registrar: registrar,
		sender:    sender,
		builder:   sip.Builder{IP: cfg.AdvertiseIP, Port: cfg.Port},
		metrics:   metrics,
		log:       log.With().Str("caller", "Engine").Logger(),
	}
}

// nextCSeq returns the next value of the server-wide CSeq counter, used
// for every request the server originates on a B dialog.
func (e *Engine) nextCSeq() int {
	return int(e.cseq.Add(1))
}

// HandleDatagram is the worker entry point for one received message.
func (e *Engine) HandleDatagram(d *Datagram) {
	msg, err := sip.Parse(d.Payload)
	if err != nil {
		e.log.Debug().Err(err).Str("src", d.Src.String()).Msg("unparseable datagram dropped")
		return
	}

	e.log.Debug().Msgf("UDP read <- %s:\n%s", d.Src.String(), d.Payload)

	if msg.Kind == sip.KindRequest && msg.Method == "REGISTER" {
		e.registrar.Handle(msg, d.Src)
		return
	}

	// Stray responses, retransmitted 200s for transactions already closed
	// and the like. Only responses whose CSeq names a dialog-changing
	// method reach the state machine.
	if msg.Kind == sip.KindStatus {
		if msg.CSeq == "" ||
			(!msg.CSeqMentions("INVITE") && !msg.CSeqMentions("CANCEL") && !msg.CSeqMentions("BYE")) {
			e.log.Debug().Str("cseq", msg.CSeq).Msg("response outside INVITE/CANCEL/BYE discarded")
			return
		}
	}

	call, leg := e.calls.FindByCallID(msg.CallID)
	if call == nil {
		e.handleNoCall(msg, d.Src)
		return
	}

	call.mu.Lock()
	defer call.mu.Unlock()
	if !call.active {
		// Released between lookup and lock.
		e.log.Debug().Str("call_id", msg.CallID).Msg("call released while message queued")
		return
	}
	// The slot may have been released and reallocated between lookup and
	// lock; re-derive the leg from the Call-ID it holds now.
	switch msg.CallID {
	case call.ALegUUID:
		leg = LegA
	case call.BLegUUID:
		leg = LegB
	default:
		e.log.Debug().Str("call_id", msg.CallID).Msg("call slot reassigned while message queued")
		return
	}
	e.handleCall(call, leg, msg, d.Src)
}

func (e *Engine) handleNoCall(msg *sip.Message, src Addr) {
	if msg.Kind == sip.KindRequest && msg.Method == "INVITE" {
		e.handleInitialInvite(msg, src)
		return
	}
	e.log.Warn().
		Str("method", msg.Method).
		Int("status", msg.StatusCode).
		Str("call_id", msg.CallID).
		Msg("unexpected message, call may already be released")
}

// handleInitialInvite allocates a call, answers 100 Trying toward the
// caller and originates the B-leg INVITE.
func (e *Engine) handleInitialInvite(msg *sip.Message, src Addr) {
	via := sip.RewriteVia(msg.Via, src.IP, src.Port)

	call := e.calls.Allocate(msg.CallID)
	if call == nil {
		if existing, _ := e.calls.FindByCallID(msg.CallID); existing != nil {
			e.log.Debug().Str("call_id", msg.CallID).Msg("duplicate INVITE for active call dropped")
			return
		}
		e.log.Warn().Str("call_id", msg.CallID).Msg("call map full, rejecting INVITE")
		e.respond("SIP/2.0 500 Server Internal Error", []string{
			via,
			msg.From,
			msg.To,
			msg.CallIDLine,
			msg.CSeq,
			userAgentHeader,
		}, nil, src)
		return
	}

	call.mu.Lock()
	defer call.mu.Unlock()

	call.ALegAddr = src
	call.ALegHeaders = LegHeaders{From: msg.From, Via: via, CSeq: msg.CSeq, To: msg.To}
	call.ALegContact = sip.ContactURI(msg.Contact)
	if user, ok := sip.UserFromURI(msg.From); ok {
		call.Caller = user
	}

	callee, ok := sip.CalleeFromTo(msg.To)
	var entry *LocationEntry
	if ok {
		entry = e.locations.Find(callee)
	}
	if entry == nil {
		e.log.Info().Str("callee", callee).Str("call_id", msg.CallID).Msg("callee not found")
		e.respond("SIP/2.0 404 Not Found", []string{
			via,
			msg.From,
			msg.To,
			msg.CallIDLine,
			msg.CSeq,
			userAgentHeader,
		}, nil, src)
		e.release(call)
		return
	}
	call.Callee = callee
	call.BLegAddr = Addr{IP: entry.IP, Port: entry.Port}
	call.ALegMedia.RemoteMedia = true
	call.BLegMedia.LocalMedia = true

	body := msg.Body()
	e.inspectSDP(call, body)

	e.respond("SIP/2.0 100 Trying", []string{
		via,
		msg.From,
		msg.To,
		msg.CallIDLine,
		msg.CSeq,
		userAgentHeader,
	}, nil, src)

	if body != nil {
		bURI := "sip:" + callee + "@" + call.BLegAddr.String()
		call.BLegHeaders = LegHeaders{
			Via:  e.builder.Via(),
			CSeq: "CSeq: " + strconv.Itoa(e.nextCSeq()) + " INVITE",
			From: msg.From,
			To:   "To: <" + bURI + ";ob>",
		}
		e.request("INVITE "+bURI+" SIP/2.0", []string{
			call.BLegHeaders.Via,
			call.BLegHeaders.From,
			call.BLegHeaders.To,
			"Call-ID: " + call.BLegUUID,
			userAgentHeader,
			call.BLegHeaders.CSeq,
			"Max-Forwards: " + strconv.Itoa(msg.DecrementedMaxForwards()),
			e.builder.Contact(),
		}, body, call.BLegAddr)
	} else {
		e.log.Warn().Str("call_id", msg.CallID).Msg("INVITE without SDP, not forwarded")
	}

	e.transition(call, eventInvite)
}

func (e *Engine) handleCall(call *Call, leg Leg, msg *sip.Message, src Addr) {
	// The callee's To gains its tag on the first provisional response;
	// keep the stored line current so later requests carry it.
	if leg == LegB && msg.To != "" {
		call.BLegHeaders.To = msg.To
	}

	switch call.State() {
	case StateRouting, StateRinging:
		e.handleEarly(call, leg, msg, src)
	case StateAnswered:
		e.handleAnswered(call, leg, msg, src)
	case StateConnected:
		e.handleConnected(call, leg, msg, src)
	case StateDisconnecting:
		e.handleDisconnecting(call, leg, msg)
	default:
		e.log.Warn().
			Str("state", call.State()).
			Str("call_id", msg.CallID).
			Msg("message in unexpected state")
	}
}

// handleEarly covers the routing and ringing states: provisional and final
// responses from B, and a possible CANCEL from A.
func (e *Engine) handleEarly(call *Call, leg Leg, msg *sip.Message, src Addr) {
	switch {
	case msg.Kind == sip.KindRequest && msg.Method == "CANCEL" && leg == LegA:
		e.cancelEarly(call, msg, src)

	case msg.Kind == sip.KindStatus && leg == LegB && msg.StatusCode == 183:
		e.forwardProgress(call, msg, "SIP/2.0 183 Session Progress")

	case msg.Kind == sip.KindStatus && leg == LegB && msg.StatusCode == 180:
		e.forwardProgress(call, msg, "SIP/2.0 180 Ringing")
		e.transition(call, eventRing)

	case msg.Kind == sip.KindStatus && leg == LegB && msg.StatusCode == 200:
		if uri := sip.ContactURI(msg.Contact); uri != "" {
			call.BLegContact = uri
		}
		e.forwardProgress(call, msg, "SIP/2.0 200 OK")
		e.transition(call, eventAnswer)

	case msg.Kind == sip.KindStatus && leg == LegB && msg.StatusCode < 200:
		e.log.Debug().Int("status", msg.StatusCode).Str("call_id", msg.CallID).Msg("provisional ignored")

	case msg.Kind == sip.KindStatus && leg == LegB && msg.StatusCode >= 400:
		e.rejectEarly(call, msg)

	default:
		e.log.Warn().
			Str("method", msg.Method).
			Int("status", msg.StatusCode).
			Str("leg", leg.String()).
			Str("call_id", msg.CallID).
			Msg("unhandled message in early state")
	}
}

// forwardProgress relays a B-leg response to the caller on the A dialog,
// body included when the response carried one.
func (e *Engine) forwardProgress(call *Call, msg *sip.Message, startLine string) {
	if !call.ALegHeaders.complete() {
		e.log.Warn().Str("call_id", call.ALegUUID).Msg("A-leg headers incomplete, not forwarding")
		return
	}
	body := msg.Body()
	e.inspectSDP(call, body)
	e.respond(startLine, []string{
		call.ALegHeaders.Via,
		call.ALegHeaders.From,
		call.ALegHeaders.To,
		"Call-ID: " + call.ALegUUID,
		call.ALegHeaders.CSeq,
		userAgentHeader,
		e.builder.Contact(),
	}, body, call.ALegAddr)
	if msg.HasSDP {
		call.ALegMedia.LocalMedia = true
		call.BLegMedia.RemoteMedia = true
	}
}

// cancelEarly handles the caller abandoning the call before answer:
// 200 for the CANCEL, 487 for the pending INVITE, CANCEL toward B.
func (e *Engine) cancelEarly(call *Call, msg *sip.Message, src Addr) {
	e.respond("SIP/2.0 200 OK", []string{
		msg.Via,
		msg.From,
		msg.To,
		msg.CallIDLine,
		msg.CSeq,
		userAgentHeader,
	}, nil, src)

	e.respond("SIP/2.0 487 Request Terminated", []string{
		call.ALegHeaders.Via,
		call.ALegHeaders.From,
		call.ALegHeaders.To,
		"Call-ID: " + call.ALegUUID,
		call.ALegHeaders.CSeq,
		userAgentHeader,
	}, nil, call.ALegAddr)

	if call.BLegHeaders.complete() {
		bURI := "sip:" + call.Callee + "@" + call.BLegAddr.String()
		e.request("CANCEL "+bURI+" SIP/2.0", []string{
			call.BLegHeaders.Via,
			call.BLegHeaders.From,
			call.BLegHeaders.To,
			"Call-ID: " + call.BLegUUID,
			userAgentHeader,
			"CSeq: " + strconv.Itoa(sip.ExtractCSeqNumber(call.BLegHeaders.CSeq)) + " CANCEL",
			"Max-Forwards: " + strconv.Itoa(msg.DecrementedMaxForwards()),
		}, nil, call.BLegAddr)
	}

	e.transition(call, eventCancel)
}

// rejectEarly handles a final failure from B: ACK it, relay the bare
// status code to A and release the call.
func (e *Engine) rejectEarly(call *Call, msg *sip.Message) {
	if call.BLegHeaders.complete() {
		e.request("ACK sip:"+call.Callee+"@"+call.BLegAddr.String()+" SIP/2.0", []string{
			e.builder.Via(),
			call.BLegHeaders.From,
			call.BLegHeaders.To,
			"Call-ID: " + call.BLegUUID,
			"CSeq: " + strconv.Itoa(msg.CSeqNumber) + " ACK",
			userAgentHeader,
			"Max-Forwards: 70",
		}, nil, call.BLegAddr)
	}

	e.respond("SIP/2.0 "+strconv.Itoa(msg.StatusCode), []string{
		call.ALegHeaders.Via,
		call.ALegHeaders.From,
		call.ALegHeaders.To,
		"Call-ID: " + call.ALegUUID,
		call.ALegHeaders.CSeq,
		userAgentHeader,
	}, nil, call.ALegAddr)

	e.release(call)
}

// handleAnswered waits for the caller's ACK and mirrors it onto the B
// dialog.
func (e *Engine) handleAnswered(call *Call, leg Leg, msg *sip.Message, src Addr) {
	switch {
	case msg.Kind == sip.KindRequest && msg.Method == "ACK" && leg == LegA:
		e.request("ACK sip:"+call.Callee+"@"+call.BLegAddr.String()+" SIP/2.0", []string{
			e.builder.Via(),
			call.BLegHeaders.From,
			call.BLegHeaders.To,
			"Call-ID: " + call.BLegUUID,
			"CSeq: " + strconv.Itoa(sip.ExtractCSeqNumber(call.BLegHeaders.CSeq)) + " ACK",
			userAgentHeader,
			"Max-Forwards: " + strconv.Itoa(msg.DecrementedMaxForwards()),
		}, nil, call.BLegAddr)
		e.transition(call, eventAck)

	case msg.Kind == sip.KindRequest && msg.Method == "CANCEL" && leg == LegA:
		// TODO: tear down both legs when CANCEL races the 200.
		e.log.Warn().Str("call_id", msg.CallID).Msg("CANCEL after answer, ignored")

	case msg.Kind == sip.KindRequest && msg.Method == "BYE" && leg == LegB:
		// TODO: tear down both legs when the callee hangs up pre-ACK.
		e.log.Warn().Str("call_id", msg.CallID).Msg("BYE before ACK, ignored")

	default:
		e.log.Warn().
			Str("method", msg.Method).
			Int("status", msg.StatusCode).
			Str("leg", leg.String()).
			Str("call_id", msg.CallID).
			Msg("unhandled message while awaiting ACK")
	}
}

// handleConnected handles hangup from either side: confirm the BYE to its
// sender, originate a BYE on the other dialog.
func (e *Engine) handleConnected(call *Call, leg Leg, msg *sip.Message, src Addr) {
	if msg.Kind != sip.KindRequest || msg.Method != "BYE" {
		e.log.Warn().
			Str("method", msg.Method).
			Int("status", msg.StatusCode).
			Str("leg", leg.String()).
			Str("call_id", msg.CallID).
			Msg("unhandled message in connected state")
		return
	}

	e.respond("SIP/2.0 200 OK", []string{
		msg.Via,
		msg.From,
		msg.To,
		msg.CallIDLine,
		msg.CSeq,
	}, nil, src)

	if leg == LegA {
		call.BLegHeaders.Via = e.builder.Via()
		e.request("BYE sip:"+call.Callee+"@"+call.BLegAddr.String()+" SIP/2.0", []string{
			call.BLegHeaders.Via,
			call.BLegHeaders.From,
			call.BLegHeaders.To,
			"Call-ID: " + call.BLegUUID,
			"CSeq: " + strconv.Itoa(e.nextCSeq()) + " BYE",
			userAgentHeader,
		}, nil, call.BLegAddr)
	} else {
		call.ALegHeaders.Via = e.builder.Via()
		from, to := swapFromTo(call.ALegHeaders.From, call.ALegHeaders.To)
		e.request("BYE "+call.ALegContact+" SIP/2.0", []string{
			call.ALegHeaders.Via,
			from,
			to,
			"Call-ID: " + call.ALegUUID,
			"CSeq: " + strconv.Itoa(e.nextCSeq()) + " BYE",
			userAgentHeader,
		}, nil, call.ALegAddr)
	}

	e.transition(call, eventHangup)
}

// handleDisconnecting waits for the 200 confirming the BYE or CANCEL sent
// on the other dialog, then releases the slot.
func (e *Engine) handleDisconnecting(call *Call, leg Leg, msg *sip.Message) {
	if msg.Kind == sip.KindStatus && msg.StatusCode == 200 &&
		(msg.CSeqMentions("BYE") || msg.CSeqMentions("CANCEL")) {
		e.release(call)
		return
	}
	e.log.Warn().
		Str("method", msg.Method).
		Int("status", msg.StatusCode).
		Str("leg", leg.String()).
		Str("call_id", msg.CallID).
		Msg("unhandled message while disconnecting")
}

func (e *Engine) respond(startLine string, headers []string, body []byte, dst Addr) {
	e.send(sip.Format(startLine, headers, body), startLine, dst)
}

func (e *Engine) request(startLine string, headers []string, body []byte, dst Addr) {
	e.send(sip.Format(startLine, headers, body), startLine, dst)
}

func (e *Engine) send(payload []byte, startLine string, dst Addr) {
	e.log.Info().Str("dst", dst.String()).Str("msg", startLine).Msg("Tx")
	e.log.Debug().Msgf("UDP write -> %s:\n%s", dst.String(), payload)
	if err := e.sender.Send(payload, dst); err != nil {
		e.log.Error().Err(err).Str("dst", dst.String()).Msg("send failed")
	}
}

func (e *Engine) transition(call *Call, event string) {
	if err := call.fsm.Event(context.Background(), event); err != nil {
		// A self-transition (a repeated 180 while already ringing)
		// completes but is reported as NoTransitionError.
		var nte fsm.NoTransitionError
		if !errors.As(err, &nte) {
			e.log.Warn().
				Err(err).
				Str("event", event).
				Str("state", call.State()).
				Str("call_id", call.ALegUUID).
				Msg("invalid transition")
			return
		}
	}
	e.log.Debug().
		Str("event", event).
		Str("state", call.State()).
		Str("call_id", call.ALegUUID).
		Msg("call state")
}

func (e *Engine) release(call *Call) {
	id := call.ALegUUID
	e.calls.Release(call)
	e.log.Info().Str("call_id", id).Msg("call released")
}

func (e *Engine) inspectSDP(call *Call, body []byte) {
	if body == nil {
		return
	}
	if desc, ok := sip.DescribeSDP(body); ok {
		e.log.Debug().Str("call_id", call.ALegUUID).Str("sdp", desc).Msg("media description")
	}
}

// swapFromTo reverses the stored A-leg From/To for requests the server
// originates toward the caller, which travel the dialog in the opposite
// direction.
func swapFromTo(from, to string) (string, string) {
	f := "From: " + strings.TrimPrefix(to, "To: ")
	t := "To: " + strings.TrimPrefix(from, "From: ")
	return f, t
}
