// Package registry owns every room's authoritative state and fans each
// mutation out to the connections joined to that room.
//
// All events are applied by a single goroutine (Run) in arrival order, so
// room state needs no locking and every member of a room observes buffer
// replacements and chat appends in the same order.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/coderoom/internal/metrics"
	"github.com/manpreetbhatti/coderoom/internal/protocol"
	"github.com/manpreetbhatti/coderoom/internal/room"
	"github.com/manpreetbhatti/coderoom/internal/store"
)

// Channel is the per-connection transport the registry delivers through.
// Send must not block: it queues the frame or reports false. Close asks the
// transport to drop the connection; the transport still calls Disconnect.
type Channel interface {
	ID() string
	Send(frame []byte) bool
	Close()
}

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomActive   = errors.New("room has active members")
	ErrStopped      = errors.New("registry stopped")
)

const eventQueueSize = 256

type eventKind int

const (
	eventJoin eventKind = iota
	eventUpdate
	eventChat
	eventDisconnect
	eventLeave
	eventFileTree
	eventCall
)

type event struct {
	kind   eventKind
	ch     Channel
	roomID string
	name   string
	text   string
	tree   json.RawMessage
	call   func(ctx context.Context)
	done   chan struct{}
}

type member struct {
	ch     Channel
	roomID string
	info   room.Member
	seq    uint64
	failed bool
}

// Stats is a point-in-time view of the registry
type Stats struct {
	Rooms       int `json:"rooms"`
	ActiveRooms int `json:"active_rooms"`
	Members     int `json:"members"`
}

// RoomDetail is a room summary with its live members in join order
type RoomDetail struct {
	room.Summary
	MemberList []room.Member `json:"member_list"`
}

type Registry struct {
	store  store.Store
	logger zerolog.Logger
	now    func() time.Time

	// Owned by the Run goroutine
	rooms   map[string]map[string]*member
	conns   map[string]*member
	seq     uint64
	dropped []*member

	// Latest file tree per room. Relayed verbatim and kept in memory only.
	fileTrees map[string]json.RawMessage

	// Single inbound stream; one channel keeps arrival order across kinds
	events chan event
	done   chan struct{}
}

type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func New(st store.Store, logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:  st,
		logger: logger.With().Str("component", "registry").Logger(),
		now:    time.Now,
		rooms:  make(map[string]map[string]*member),
		conns:  make(map[string]*member),
		events: make(chan event, eventQueueSize),
		done:   make(chan struct{}),

		fileTrees: make(map[string]json.RawMessage),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run applies events until ctx is cancelled, then closes every joined
// connection. It must be called exactly once.
func (r *Registry) Run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case ev := <-r.events:
			r.handle(ctx, ev)
			r.reap(ctx)
		}
	}
}

// Done is closed once Run has returned.
func (r *Registry) Done() <-chan struct{} {
	return r.done
}

// Join associates ch with (roomID, name), creating the room on first use.
func (r *Registry) Join(ch Channel, roomID, name string) {
	r.enqueue(event{kind: eventJoin, ch: ch, roomID: roomID, name: name})
}

// UpdateBuffer replaces the room buffer if ch is joined to roomID.
func (r *Registry) UpdateBuffer(ch Channel, roomID, code string) {
	r.enqueue(event{kind: eventUpdate, ch: ch, roomID: roomID, text: code})
}

// PostChat appends a chat entry if ch is joined to roomID.
func (r *Registry) PostChat(ch Channel, roomID, name, text string) {
	r.enqueue(event{kind: eventChat, ch: ch, roomID: roomID, name: name, text: text})
}

// UpdateFileTree replaces the room's file tree and relays it to the other
// members if ch is joined to roomID.
func (r *Registry) UpdateFileTree(ch Channel, roomID string, tree json.RawMessage) {
	r.enqueue(event{kind: eventFileTree, ch: ch, roomID: roomID, tree: tree})
}

// Leave removes ch from roomID and closes it; rejoining takes a new
// connection. Ignored unless ch is joined to roomID.
func (r *Registry) Leave(ch Channel, roomID string) {
	r.enqueue(event{kind: eventLeave, ch: ch, roomID: roomID})
}

// Disconnect removes ch's membership. Safe to call more than once.
func (r *Registry) Disconnect(ch Channel) {
	r.enqueue(event{kind: eventDisconnect, ch: ch})
}

func (r *Registry) enqueue(ev event) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.done:
		return false
	}
}

// call runs fn on the event loop and waits for it to finish.
func (r *Registry) call(ctx context.Context, fn func(ctx context.Context)) error {
	done := make(chan struct{})
	select {
	case r.events <- event{kind: eventCall, call: fn, done: done}:
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case eventJoin:
		r.join(ctx, ev.ch, ev.roomID, ev.name)
	case eventUpdate:
		r.updateBuffer(ctx, ev.ch, ev.roomID, ev.text)
	case eventChat:
		r.postChat(ctx, ev.ch, ev.roomID, ev.name, ev.text)
	case eventDisconnect:
		r.disconnect(ctx, ev.ch)
	case eventLeave:
		r.leaveRoom(ctx, ev.ch, ev.roomID)
	case eventFileTree:
		r.updateFileTree(ev.ch, ev.roomID, ev.tree)
	case eventCall:
		ev.call(ctx)
		close(ev.done)
	}
}

func (r *Registry) join(ctx context.Context, ch Channel, roomID, name string) {
	log := r.logger.With().Str("conn", ch.ID()).Str("room", roomID).Logger()

	if existing, ok := r.conns[ch.ID()]; ok {
		log.Debug().Str("joined_room", existing.roomID).Msg("connection already joined, ignoring join")
		countEvent(protocol.EventJoinRoom, metrics.OutcomeIgnored)
		return
	}
	if err := protocol.ValidateRoomID(roomID); err != nil {
		log.Warn().Err(err).Msg("rejecting join")
		countEvent(protocol.EventJoinRoom, metrics.OutcomeRejected)
		return
	}
	if err := protocol.ValidateName(name); err != nil {
		log.Warn().Err(err).Msg("rejecting join")
		countEvent(protocol.EventJoinRoom, metrics.OutcomeRejected)
		return
	}

	now := r.now()
	rm, err := r.loadOrCreate(ctx, roomID, now)
	if err != nil {
		log.Error().Err(err).Msg("failed to load room")
		countEvent(protocol.EventJoinRoom, metrics.OutcomeFailed)
		return
	}

	r.seq++
	m := &member{
		ch:     ch,
		roomID: roomID,
		info:   room.Member{ConnID: ch.ID(), Name: name, JoinedAt: now},
		seq:    r.seq,
	}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]*member)
		r.rooms[roomID] = members
		metrics.ActiveRooms.Inc()
	}
	members[m.info.ConnID] = m
	r.conns[m.info.ConnID] = m

	// Snapshot to the joiner alone, then announce to everyone else
	r.sendSelf(m, protocol.EventCodeUpdate, rm.Buffer)
	r.sendSelf(m, protocol.EventChatHistory, rm.Transcript)
	if tree, ok := r.fileTrees[roomID]; ok {
		r.sendSelf(m, protocol.EventFileSystemUpdate, tree)
	}
	r.sendSelf(m, protocol.EventRoomMembers, r.memberNames(roomID))
	r.sendOthers(m, protocol.EventUserJoined, name)

	countEvent(protocol.EventJoinRoom, metrics.OutcomeApplied)
	log.Info().Str("name", name).Int("members", len(members)).Msg("joined room")
}

func (r *Registry) loadOrCreate(ctx context.Context, roomID string, now time.Time) (*room.Room, error) {
	defer observeStore("get")()
	rm, err := r.store.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if rm == nil {
		r.logger.Info().Str("room", roomID).Msg("room created")
		return r.store.Create(ctx, roomID, now)
	}
	if err := r.store.Touch(ctx, roomID, now); err != nil {
		return nil, err
	}
	return rm, nil
}

// member returns ch's membership if it is joined to roomID.
func (r *Registry) member(ch Channel, roomID string) *member {
	m, ok := r.conns[ch.ID()]
	if !ok || m.roomID != roomID {
		return nil
	}
	return m
}

func (r *Registry) updateBuffer(ctx context.Context, ch Channel, roomID, code string) {
	m := r.member(ch, roomID)
	if m == nil {
		r.logger.Debug().Str("conn", ch.ID()).Str("room", roomID).Msg("update from non-member ignored")
		countEvent(protocol.EventCodeUpdate, metrics.OutcomeIgnored)
		return
	}

	stop := observeStore("set_buffer")
	err := r.store.SetBuffer(ctx, roomID, code, r.now())
	stop()
	if err != nil {
		r.logger.Error().Err(err).Str("room", roomID).Msg("failed to store buffer")
		countEvent(protocol.EventCodeUpdate, metrics.OutcomeFailed)
		return
	}

	// The sender already holds this buffer
	r.sendOthers(m, protocol.EventCodeUpdate, code)
	countEvent(protocol.EventCodeUpdate, metrics.OutcomeApplied)
}

func (r *Registry) postChat(ctx context.Context, ch Channel, roomID, name, text string) {
	m := r.member(ch, roomID)
	if m == nil {
		r.logger.Debug().Str("conn", ch.ID()).Str("room", roomID).Msg("chat from non-member ignored")
		countEvent(protocol.EventChatMessage, metrics.OutcomeIgnored)
		return
	}
	if name != "" && name != m.info.Name {
		r.logger.Debug().
			Str("conn", ch.ID()).
			Str("claimed", name).
			Str("name", m.info.Name).
			Msg("chat author differs from joined name, using joined name")
	}

	entry := room.ChatEntry{Author: m.info.Name, Text: text, SentAt: r.now()}

	stop := observeStore("append_chat")
	err := r.store.AppendChat(ctx, roomID, entry)
	stop()
	if err != nil {
		r.logger.Error().Err(err).Str("room", roomID).Msg("failed to store chat entry")
		countEvent(protocol.EventChatMessage, metrics.OutcomeFailed)
		return
	}

	r.sendRoom(roomID, protocol.EventChatMessage, entry)
	countEvent(protocol.EventChatMessage, metrics.OutcomeApplied)
}

func (r *Registry) updateFileTree(ch Channel, roomID string, tree json.RawMessage) {
	m := r.member(ch, roomID)
	if m == nil {
		r.logger.Debug().Str("conn", ch.ID()).Str("room", roomID).Msg("file tree from non-member ignored")
		countEvent(protocol.EventFileSystemUpdate, metrics.OutcomeIgnored)
		return
	}

	r.fileTrees[roomID] = tree
	r.sendOthers(m, protocol.EventFileSystemUpdate, tree)
	countEvent(protocol.EventFileSystemUpdate, metrics.OutcomeApplied)
}

func (r *Registry) leaveRoom(ctx context.Context, ch Channel, roomID string) {
	m := r.member(ch, roomID)
	if m == nil {
		countEvent(protocol.EventLeaveRoom, metrics.OutcomeIgnored)
		return
	}
	r.leave(ctx, m)
	m.ch.Close()
	countEvent(protocol.EventLeaveRoom, metrics.OutcomeApplied)
}

func (r *Registry) disconnect(ctx context.Context, ch Channel) {
	m, ok := r.conns[ch.ID()]
	if !ok {
		return
	}
	r.leave(ctx, m)
}

func (r *Registry) leave(ctx context.Context, m *member) {
	delete(r.conns, m.info.ConnID)

	members := r.rooms[m.roomID]
	delete(members, m.info.ConnID)

	if len(members) == 0 {
		delete(r.rooms, m.roomID)
		metrics.ActiveRooms.Dec()
		if err := r.store.Touch(ctx, m.roomID, r.now()); err != nil {
			r.logger.Error().Err(err).Str("room", m.roomID).Msg("failed to stamp room activity")
		}
	}

	r.sendRoom(m.roomID, protocol.EventUserLeft, m.info.Name)

	countEvent("disconnect", metrics.OutcomeApplied)
	r.logger.Info().
		Str("conn", m.info.ConnID).
		Str("room", m.roomID).
		Str("name", m.info.Name).
		Int("remaining", len(members)).
		Msg("left room")
}

// reap closes and removes peers whose send buffer overflowed during the
// last event. Their departure is announced like any other leave.
func (r *Registry) reap(ctx context.Context) {
	for len(r.dropped) > 0 {
		m := r.dropped[0]
		r.dropped = r.dropped[1:]

		if current, ok := r.conns[m.info.ConnID]; !ok || current != m {
			continue
		}
		r.logger.Warn().Str("conn", m.info.ConnID).Str("room", m.roomID).Msg("dropping slow connection")
		m.ch.Close()
		r.leave(ctx, m)
	}
}

func (r *Registry) shutdown() {
	for id, m := range r.conns {
		m.ch.Close()
		delete(r.conns, id)
	}
	metrics.ActiveRooms.Sub(float64(len(r.rooms)))
	r.rooms = make(map[string]map[string]*member)
	r.logger.Info().Msg("registry stopped")
}

func (r *Registry) memberList(roomID string) []room.Member {
	members := make([]*member, 0, len(r.rooms[roomID]))
	for _, m := range r.rooms[roomID] {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].seq < members[j].seq
	})

	list := make([]room.Member, len(members))
	for i, m := range members {
		list[i] = m.info
	}
	return list
}

func (r *Registry) memberNames(roomID string) []string {
	list := r.memberList(roomID)
	names := make([]string, len(list))
	for i, m := range list {
		names[i] = m.Name
	}
	return names
}

func countEvent(event protocol.EventType, outcome string) {
	metrics.EventsTotal.WithLabelValues(string(event), outcome).Inc()
}

func observeStore(op string) func() {
	start := time.Now()
	return func() {
		metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
