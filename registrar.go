package tinysip

import (
	"github.com/rs/zerolog"

	"github.com/tinysip/tinysip/sip"
)

// Registrar answers REGISTER requests against the provisioned location
// table. Responses echo the request's own header lines and carry no
// User-Agent.
type Registrar struct {
	locations *LocationTable
	sender    Sender
	metrics   *Metrics
	log       zerolog.Logger
}

func NewRegistrar(locations *LocationTable, sender Sender, metrics *Metrics, log zerolog.Logger) *Registrar {
	return &Registrar{
		locations: locations,
		sender:    sender,
		metrics:   metrics,
		log:       log.With().Str("caller", "Registrar").Logger(),
	}
}

// Handle processes one REGISTER from src.
func (r *Registrar) Handle(msg *sip.Message, src Addr) {
	user, ok := sip.UserFromURI(msg.From)
	if !ok {
		r.log.Warn().Str("from", msg.From).Msg("REGISTER without a resolvable user")
		return
	}

	if msg.Authorization != "" {
		creds := ParseAuthorization(msg.Authorization)
		r.log.Debug().
			Str("username", creds.Username).
			Str("realm", creds.Realm).
			Str("nonce", creds.Nonce).
			Msg("digest credentials presented")
	}

	entry := r.locations.Find(user)
	if entry == nil {
		r.log.Info().Str("user", user).Msg("REGISTER for unknown user")
		payload := sip.Format("SIP/2.0 404 Not Found", []string{
			msg.Via,
			msg.From,
			msg.To,
			msg.CallIDLine,
			msg.CSeq,
		}, nil)
		r.send(payload, src)
		return
	}

	r.locations.Update(entry, src.IP, src.Port)
	r.metrics.Registrations.Inc()
	r.log.Info().Str("user", user).Str("addr", src.String()).Msg("registered")

	contact := msg.Contact
	if contact != "" {
		contact += ";expires=7200"
	}
	payload := sip.Format("SIP/2.0 200 OK", []string{
		msg.Via,
		msg.From,
		msg.To,
		msg.CallIDLine,
		msg.CSeq,
		contact,
	}, nil)
	r.send(payload, src)
}

func (r *Registrar) send(payload []byte, dst Addr) {
	if err := r.sender.Send(payload, dst); err != nil {
		r.log.Error().Err(err).Str("dst", dst.String()).Msg("send failed")
	}
}
