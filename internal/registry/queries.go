package registry

import (
	"context"
	"fmt"

	"github.com/manpreetbhatti/coderoom/internal/metrics"
	"github.com/manpreetbhatti/coderoom/internal/room"
)

// Rooms lists every stored room with its live member count.
func (r *Registry) Rooms(ctx context.Context) ([]room.Summary, error) {
	var (
		summaries []room.Summary
		err       error
	)
	callErr := r.call(ctx, func(ctx context.Context) {
		summaries, err = r.summaries(ctx)
	})
	if callErr != nil {
		return nil, callErr
	}
	return summaries, err
}

// Room returns one room with its members, or ErrRoomNotFound.
func (r *Registry) Room(ctx context.Context, id string) (*RoomDetail, error) {
	var (
		detail *RoomDetail
		err    error
	)
	callErr := r.call(ctx, func(ctx context.Context) {
		var rm *room.Room
		rm, err = r.store.Get(ctx, id)
		if err != nil {
			return
		}
		if rm == nil {
			err = ErrRoomNotFound
			return
		}
		detail = &RoomDetail{
			Summary:    rm.Summarize(len(r.rooms[id])),
			MemberList: r.memberList(id),
		}
	})
	if callErr != nil {
		return nil, callErr
	}
	return detail, err
}

func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	var (
		stats Stats
		err   error
	)
	callErr := r.call(ctx, func(ctx context.Context) {
		var summaries []room.Summary
		summaries, err = r.store.List(ctx)
		stats = Stats{
			Rooms:       len(summaries),
			ActiveRooms: len(r.rooms),
			Members:     len(r.conns),
		}
	})
	if callErr != nil {
		return Stats{}, callErr
	}
	return stats, err
}

// DeleteRoom drops a room's stored state. Rooms with members are refused.
func (r *Registry) DeleteRoom(ctx context.Context, id string) error {
	var err error
	callErr := r.call(ctx, func(ctx context.Context) {
		if len(r.rooms[id]) > 0 {
			err = ErrRoomActive
			return
		}
		var rm *room.Room
		rm, err = r.store.Get(ctx, id)
		if err != nil {
			return
		}
		if rm == nil {
			err = ErrRoomNotFound
			return
		}
		err = r.store.Delete(ctx, id)
		if err == nil {
			delete(r.fileTrees, id)
			r.logger.Info().Str("room", id).Msg("room deleted")
		}
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// EvictIdle deletes every room the policy selects and returns how many
// were removed.
func (r *Registry) EvictIdle(ctx context.Context, policy room.EvictionPolicy) (int, error) {
	var (
		evicted int
		err     error
	)
	callErr := r.call(ctx, func(ctx context.Context) {
		var summaries []room.Summary
		summaries, err = r.summaries(ctx)
		if err != nil {
			return
		}
		now := r.now()
		for _, s := range summaries {
			if !policy.ShouldEvict(s, now) {
				continue
			}
			if err = r.store.Delete(ctx, s.ID); err != nil {
				err = fmt.Errorf("evict room %q: %w", s.ID, err)
				return
			}
			delete(r.fileTrees, s.ID)
			evicted++
			metrics.RoomsEvicted.Inc()
			r.logger.Info().Str("room", s.ID).Time("last_active", s.LastActive).Msg("evicted idle room")
		}
	})
	if callErr != nil {
		return 0, callErr
	}
	return evicted, err
}

func (r *Registry) summaries(ctx context.Context) ([]room.Summary, error) {
	summaries, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range summaries {
		summaries[i].Members = len(r.rooms[summaries[i].ID])
	}
	return summaries, nil
}
