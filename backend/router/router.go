// Package router fans real-time events out to connections using the
// current room membership.
//
// Personal rooms are named after user ids and receive private deliveries,
// so every open tab of a user gets a copy. Chat rooms are named after chat
// ids and receive typing indicators and read receipts.
package router

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/adwski/chat-backend/backend/model"
	"github.com/rs/zerolog"
)

// Drop reasons reported by Stats.
const (
	DropUnknownEvent     = "unknown_event"
	DropMalformedPayload = "malformed_payload"
	DropNoParticipants   = "no_participants"
	DropIdentityConflict = "identity_conflict"

	// SkippedParticipant counts participant entries without id, the rest of
	// the message is still delivered.
	SkippedParticipant = "skipped_participant"
)

type (
	Registry interface {
		Announce(connID, userID string) error
		Join(connID, roomID string) error
		MembersOf(roomID string) []string
	}

	Switch interface {
		Deliver(ctx context.Context, frame model.Frame, dst []string) int
	}

	Config struct {
		Logger   *zerolog.Logger
		Registry Registry
		Switch   Switch
	}

	Router struct {
		logger zerolog.Logger
		reg    Registry
		sw     Switch

		dropUnknown   atomic.Int64
		dropMalformed atomic.Int64
		dropNoUsers   atomic.Int64
		dropConflict  atomic.Int64
		skippedUsers  atomic.Int64
	}
)

func NewRouter(cfg Config) *Router {
	return &Router{
		logger: cfg.Logger.With().Str("component", "router").Logger(),
		reg:    cfg.Registry,
		sw:     cfg.Switch,
	}
}

// Serve routes frames coming from one connection until rx is closed or
// ctx is done. Each frame is fully fanned out before the next is read.
func (r *Router) Serve(ctx context.Context, connID string, rx <-chan model.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-rx:
			if !ok {
				return
			}
			_ = r.Route(ctx, connID, f)
		}
	}
}

// Route handles a single inbound frame. Returned error is informational
// only: rejected frames are dropped and never reported to the sender.
func (r *Router) Route(ctx context.Context, connID string, f model.Frame) error {
	logger := r.logger.With().
		Str("connID", connID).
		Str("event", f.Event).
		Logger()

	ev, err := model.ParseEvent(f)
	if err != nil {
		r.drop(err, &logger)
		return err
	}

	switch ev := ev.(type) {
	case model.Setup:
		err = r.setup(ctx, connID, ev, &logger)
	case model.JoinChat:
		err = r.reg.Join(connID, ev.RoomID)
		if err == nil {
			logger.Debug().Str("roomID", ev.RoomID).Msg("joined chat room")
		}
	case model.Typing:
		r.broadcast(ctx, connID, ev.RoomID, model.Frame{Event: model.EventTyping, Payload: ev.Payload}, &logger)
	case model.StopTyping:
		r.broadcast(ctx, connID, ev.RoomID, model.Frame{Event: model.EventStopTyping, Payload: ev.Payload}, &logger)
	case model.NewMessage:
		r.newMessage(ctx, ev, &logger)
	case model.MessagesRead:
		r.broadcast(ctx, connID, ev.ChatID, model.Frame{Event: model.EventMessagesMarkedRead, Payload: ev.Payload}, &logger)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("event rejected")
	}
	return err
}

func (r *Router) setup(ctx context.Context, connID string, ev model.Setup, logger *zerolog.Logger) error {
	if err := r.reg.Announce(connID, ev.UserID); err != nil {
		r.dropConflict.Add(1)
		return err
	}
	logger.Debug().Str("userID", ev.UserID).Msg("joined personal room")

	r.sw.Deliver(ctx, model.Frame{Event: model.EventConnected}, []string{connID})
	return nil
}

// newMessage delivers to personal rooms of every participant except sender.
func (r *Router) newMessage(ctx context.Context, ev model.NewMessage, logger *zerolog.Logger) {
	if ev.Skipped > 0 {
		r.skippedUsers.Add(int64(ev.Skipped))
		logger.Warn().Int("skipped", ev.Skipped).Msg("chat participants without id skipped")
	}
	f := model.Frame{Event: model.EventMessageReceived, Payload: ev.Payload}
	for _, userID := range ev.Participants {
		if userID == ev.SenderID {
			continue
		}
		if r.sw.Deliver(ctx, f, r.reg.MembersOf(userID)) == 0 {
			logger.Debug().Str("userID", userID).Msg("participant is offline")
		}
	}
}

// broadcast delivers to all room members except the originating connection.
func (r *Router) broadcast(ctx context.Context, connID, roomID string, f model.Frame, logger *zerolog.Logger) {
	members := r.reg.MembersOf(roomID)
	dst := make([]string, 0, len(members))
	for _, member := range members {
		if member != connID {
			dst = append(dst, member)
		}
	}
	if len(dst) == 0 {
		logger.Debug().Str("roomID", roomID).Msg("broadcast did not reach anyone")
		return
	}
	r.sw.Deliver(ctx, f, dst)
}

func (r *Router) drop(err error, logger *zerolog.Logger) {
	switch {
	case errors.Is(err, model.ErrNoParticipants):
		r.dropNoUsers.Add(1)
		logger.Warn().Err(err).Msg("chat.users not defined, message dropped")
	case errors.Is(err, model.ErrUnknownEvent):
		r.dropUnknown.Add(1)
		logger.Debug().Err(err).Msg("unknown event dropped")
	default:
		r.dropMalformed.Add(1)
		logger.Warn().Err(err).Msg("malformed event dropped")
	}
}

// Stats returns counters of dropped events by reason and of skipped
// participants.
func (r *Router) Stats() map[string]int64 {
	return map[string]int64{
		DropUnknownEvent:     r.dropUnknown.Load(),
		DropMalformedPayload: r.dropMalformed.Load(),
		DropNoParticipants:   r.dropNoUsers.Load(),
		DropIdentityConflict: r.dropConflict.Load(),
		SkippedParticipant:   r.skippedUsers.Load(),
	}
}
