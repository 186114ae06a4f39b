package _switch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adwski/chat-backend/backend/model"
	"github.com/rs/zerolog"
)

const (
	defaultFwdTimout = time.Second
)

var (
	ErrAlreadyConnected = errors.New("connection is already attached")
)

// Switch owns outbound wires of live connections and pushes frames to them.
type Switch struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	fwd    map[string]model.Wire

	fwdTimeout time.Duration
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger:     logger.With().Str("component", "switch").Logger(),
		mx:         &sync.RWMutex{},
		fwd:        make(map[string]model.Wire),
		fwdTimeout: defaultFwdTimout,
	}
}

func (sw *Switch) Connect(connID string, wire model.Wire) error {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	if _, ok := sw.fwd[connID]; ok {
		return ErrAlreadyConnected
	}
	sw.fwd[connID] = wire
	sw.logger.Debug().Str("connID", connID).Msg("endpoint connected")
	return nil
}

func (sw *Switch) Disconnect(connID string) {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	delete(sw.fwd, connID)
	sw.logger.Debug().Str("connID", connID).Msg("endpoint disconnected")
}

// Deliver sends frame to every listed connection and returns how many
// of them accepted it. Unknown or stuck connections are skipped.
func (sw *Switch) Deliver(ctx context.Context, frame model.Frame, dst []string) int {
	var (
		sent   int
		logger = sw.logger.With().Str("event", frame.Event).Logger()
	)

	for _, connID := range dst {
		sw.mx.RLock()
		wire, ok := sw.fwd[connID]
		sw.mx.RUnlock()

		if !ok {
			logger.Debug().Str("dst", connID).Msg("cannot forward, dst not found")
			continue
		}
		frameSent, canceled := send(ctx, frame, wire.TX, sw.fwdTimeout, connID, &logger)
		if canceled {
			break
		}
		if frameSent {
			sent++
		}
	}
	return sent
}

func send(
	ctx context.Context,
	frame model.Frame,
	tx chan<- model.Frame,
	timeout time.Duration,
	dst string,
	logger *zerolog.Logger,
) (bool, bool) {
	var sent, canceled bool
	tCh := time.NewTimer(timeout)
	select {
	case <-ctx.Done():
		canceled = true
	case <-tCh.C:
		logger.Error().Str("dst", dst).Msg("dead endpoint")
	case tx <- frame:
		logger.Debug().Str("dst", dst).Msg("event is forwarded")
		sent = true
	}
	tCh.Stop()
	return sent, canceled
}
