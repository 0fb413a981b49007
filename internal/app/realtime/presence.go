package realtime

import "github.com/rs/zerolog"

// Presence broadcasts online and offline transitions to every live connection except the
// ones that caused them.
type Presence struct {
	hub    *Hub
	logger zerolog.Logger
}

func newPresence(h *Hub) *Presence {
	return &Presence{hub: h, logger: h.logger.With().Str("subsystem", "presence").Logger()}
}

// Online announces userID to everyone except the listed connections and returns the number
// of connections it was queued on.
func (p *Presence) Online(userID string, exclude ...string) int {
	return p.broadcast(userOnline(userID), exclude)
}

// Offline announces that userID left.
func (p *Presence) Offline(userID string, exclude ...string) int {
	return p.broadcast(userOffline(userID), exclude)
}

func (p *Presence) broadcast(ev OutboundEvent, exclude []string) int {
	frame, err := ev.Encode()
	if err != nil {
		p.logger.Error().Err(err).Str("event", ev.Name).Msg("Failed to encode presence event")
		return 0
	}

	delivered := 0
	for _, c := range p.hub.conns.snapshot() {
		if !c.alive() || excluded(c.id, exclude) {
			continue
		}
		if p.hub.deliverFrame(c, ev.Name, frame) {
			delivered++
		}
	}

	p.logger.Debug().Str("event", ev.Name).Int("recipients", delivered).Msg("Presence broadcast")
	return delivered
}

func excluded(id string, exclude []string) bool {
	for _, e := range exclude {
		if e != "" && e == id {
			return true
		}
	}
	return false
}
