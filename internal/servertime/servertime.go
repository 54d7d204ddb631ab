// Package servertime reconstructs the server clock from the one-byte tick
// stamp on every packet and occasional absolute game time messages.
package servertime

import (
	"log/slog"

	"github.com/udisondev/worldlink/internal/protocol"
	"github.com/udisondev/worldlink/internal/seqnum"
)

const (
	uninitialised = -1000.0

	// Wraps are only recognised between the head and the tail thirds of
	// the ring, so up to 84 consecutive ticks may be lost.
	lastHead  seqnum.Seq8 = 256/3 - 1
	firstTail seqnum.Seq8 = 255 - lastHead

	maxTimeError  = 0.05
	maxTimeAdjust = 0.005
	warnTimeError = 30.0

	sequenceTicks = 256
)

// Handler tracks the current 256-tick sequence. Times are seconds on the
// client's clock; it is not safe for concurrent use.
type Handler struct {
	tick                    seqnum.Seq8
	timeAtSequenceStart     float64
	gameTimeAtSequenceStart protocol.TimeStamp
	freq                    float64
}

// New returns a handler expecting freq ticks per second.
func New(freq float64) *Handler {
	if freq <= 0 {
		freq = protocol.DefaultUpdateFrequency
	}
	return &Handler{timeAtSequenceStart: uninitialised, freq: freq}
}

// SetUpdateFrequency changes the tick rate used for later conversions.
func (h *Handler) SetUpdateFrequency(freq float64) {
	if freq > 0 {
		h.freq = freq
	}
}

func (h *Handler) UpdateFrequency() float64 { return h.freq }

// Initialised reports whether a game time has been received.
func (h *Handler) Initialised() bool {
	return h.timeAtSequenceStart != uninitialised
}

func (h *Handler) period() float64 {
	return sequenceTicks / h.freq
}

// GameTime anchors a new sequence at the absolute server time newGameTime,
// received at currentTime.
func (h *Handler) GameTime(newGameTime protocol.TimeStamp, currentTime float64) {
	h.tick = seqnum.Seq8(newGameTime)
	h.gameTimeAtSequenceStart = newGameTime - protocol.TimeStamp(h.tick)
	h.timeAtSequenceStart = currentTime - float64(h.tick)/h.freq
}

// TickSync accounts for one received tick stamp. Before the first GameTime
// it does nothing.
func (h *Handler) TickSync(newTick seqnum.Seq8, currentTime float64) {
	if !h.Initialised() {
		return
	}

	switch {
	case h.tick >= firstTail && newTick <= lastHead:
		h.timeAtSequenceStart += h.period()
		h.gameTimeAtSequenceStart += sequenceTicks
	case newTick >= firstTail && h.tick <= lastHead:
		slog.Warn("reverse tick wrap", "last", uint8(h.tick), "new", uint8(newTick))
		h.timeAtSequenceStart -= h.period()
		h.gameTimeAtSequenceStart -= sequenceTicks
	}

	if h.tick.Distance(newTick) > 0x80 {
		slog.Debug("non-sequential tick", "wanted", uint8(h.tick.Next()), "got", uint8(newTick))
	}
	h.tick = newTick

	// Подтягиваем начало последовательности к часам клиента небольшими шагами.
	timeError := currentTime - h.LastMessageTime()
	limit := 2 * h.period() / 3
	switch {
	case timeError > maxTimeError:
		h.timeAtSequenceStart += min(timeError, maxTimeAdjust)
		for timeError > limit {
			h.timeAtSequenceStart += h.period()
			timeError -= h.period()
		}
	case -timeError > maxTimeError:
		h.timeAtSequenceStart += max(timeError, -maxTimeAdjust)
		for timeError < -limit {
			h.timeAtSequenceStart -= h.period()
			timeError += h.period()
		}
	}

	if timeError < -warnTimeError || timeError > warnTimeError {
		slog.Warn("server time drift",
			"error", timeError, "client", currentTime, "server", h.LastMessageTime())
	}
}

// ServerTime is the server time, in seconds, matching clientTime.
func (h *Handler) ServerTime(clientTime float64) float64 {
	return float64(h.gameTimeAtSequenceStart)/h.freq + (clientTime - h.timeAtSequenceStart)
}

// LastMessageTime is the client time at which the last tick was stamped.
func (h *Handler) LastMessageTime() float64 {
	return h.timeAtSequenceStart + float64(h.tick)/h.freq
}

// LastGameTime is the game time of the last tick.
func (h *Handler) LastGameTime() protocol.TimeStamp {
	return h.gameTimeAtSequenceStart + protocol.TimeStamp(h.tick)
}
