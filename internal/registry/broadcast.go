package registry

import (
	"github.com/manpreetbhatti/coderoom/internal/metrics"
	"github.com/manpreetbhatti/coderoom/internal/protocol"
)

// sendSelf delivers to one member only.
func (r *Registry) sendSelf(m *member, event protocol.EventType, data any) {
	frame, ok := r.encode(event, data)
	if !ok {
		return
	}
	r.deliver(m, frame)
}

// sendOthers delivers to every member of m's room except m.
func (r *Registry) sendOthers(m *member, event protocol.EventType, data any) {
	frame, ok := r.encode(event, data)
	if !ok {
		return
	}
	for _, peer := range r.rooms[m.roomID] {
		if peer != m {
			r.deliver(peer, frame)
		}
	}
}

// sendRoom delivers to every current member of roomID.
func (r *Registry) sendRoom(roomID string, event protocol.EventType, data any) {
	frame, ok := r.encode(event, data)
	if !ok {
		return
	}
	for _, peer := range r.rooms[roomID] {
		r.deliver(peer, frame)
	}
}

func (r *Registry) encode(event protocol.EventType, data any) ([]byte, bool) {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		r.logger.Error().Err(err).Str("event", string(event)).Msg("failed to encode frame")
		return nil, false
	}
	return frame, true
}

// deliver never blocks. A peer that cannot take the frame is queued for
// removal after the current event; delivery to the others continues.
func (r *Registry) deliver(m *member, frame []byte) {
	if m.ch.Send(frame) {
		return
	}
	metrics.DroppedSends.Inc()
	if !m.failed {
		m.failed = true
		r.dropped = append(r.dropped, m)
	}
}
