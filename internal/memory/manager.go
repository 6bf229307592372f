package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/panrag/panrag/internal/config"
	"github.com/panrag/panrag/pkg/contracts"
	"github.com/panrag/panrag/pkg/models"
)

// Manager coordinates the fast buffer and the durable log. Writes go to
// both; reads hit the buffer and fall back to a log backfill when the
// buffer is empty (expired, evicted, or a fresh Redis).
type Manager struct {
	buffer contracts.TurnBuffer
	log    contracts.TurnLog
	cfg    config.MemoryConfig
	now    func() time.Time
}

func NewManager(buffer contracts.TurnBuffer, turnLog contracts.TurnLog, cfg config.MemoryConfig) *Manager {
	return &Manager{buffer: buffer, log: turnLog, cfg: cfg, now: time.Now}
}

// Context returns the recent conversation window, backfilling the buffer
// from durable logs first if it is empty. A memory failure degrades to
// an empty history; it never fails the query.
func (m *Manager) Context(ctx context.Context, convID string) []models.ConversationTurn {
	if convID == "" {
		return nil
	}
	if err := m.EnsureBackfill(ctx, convID); err != nil {
		log.Warn().Err(err).Str("conv_id", convID).Msg("backfill failed, continuing without history")
	}
	turns, err := m.buffer.Recent(ctx, convID)
	if err != nil {
		log.Warn().Err(err).Str("conv_id", convID).Msg("buffer read failed, continuing without history")
		return nil
	}
	return m.window(turns)
}

// window restores the buffer to a clean read: duplicate seqs are
// collapsed, turns are reordered ascending by seq, and the result is
// capped at the configured window size. seq is the ordering authority,
// not the raw list length — two concurrent backfills of an empty buffer
// both replay the same log, so the raw list can transiently hold
// interleaved duplicates.
func (m *Manager) window(turns []models.ConversationTurn) []models.ConversationTurn {
	seen := make(map[int64]bool, len(turns))
	out := make([]models.ConversationTurn, 0, len(turns))
	for _, t := range turns {
		if t.Seq > 0 {
			if seen[t.Seq] {
				continue
			}
			seen[t.Seq] = true
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if m.cfg.BufferSize > 0 && len(out) > m.cfg.BufferSize {
		out = out[len(out)-m.cfg.BufferSize:]
	}
	return out
}

// EnsureBackfill rebuilds an empty buffer from the day logs: today plus
// the configured number of previous days, capped at the max line budget,
// deduplicated by sequence number. Running it against a warm buffer is a
// no-op, so repeated calls cannot duplicate turns.
func (m *Manager) EnsureBackfill(ctx context.Context, convID string) error {
	existing, err := m.buffer.Recent(ctx, convID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	var turns []models.ConversationTurn
	today := m.now().UTC()
	for i := m.cfg.BackfillDays; i >= 0; i-- {
		day, err := m.log.ReadDay(ctx, convID, today.AddDate(0, 0, -i))
		if err != nil {
			return err
		}
		turns = append(turns, day...)
	}
	if len(turns) == 0 {
		return nil
	}

	// Dedup by seq (last write wins), then restore log order.
	bySeq := make(map[int64]models.ConversationTurn, len(turns))
	for _, t := range turns {
		bySeq[t.Seq] = t
	}
	turns = turns[:0]
	for _, t := range bySeq {
		turns = append(turns, t)
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].Seq < turns[j].Seq })

	if max := m.cfg.BackfillMaxLines; max > 0 && len(turns) > max {
		turns = turns[len(turns)-max:]
	}

	var maxSeq int64
	for _, t := range turns {
		if err := m.buffer.Append(ctx, t); err != nil {
			return err
		}
		if t.Seq > maxSeq {
			maxSeq = t.Seq
		}
	}
	return m.buffer.SetSeq(ctx, convID, maxSeq)
}

// AppendTurn allocates the next sequence number and writes the turn to
// both stores. Each store is best-effort on its own; the error reports a
// total loss only when neither store accepted the turn.
func (m *Manager) AppendTurn(ctx context.Context, convID string, role models.Role, text string, meta map[string]string) (models.ConversationTurn, error) {
	turn := models.ConversationTurn{
		ConvID:    convID,
		Role:      role,
		Text:      text,
		Meta:      meta,
		Timestamp: m.now().UTC(),
	}
	seq, err := m.buffer.NextSeq(ctx, convID)
	if err != nil {
		// Sequence allocation down means Redis is down; still try the log
		// with seq 0 so the turn is not lost entirely.
		log.Warn().Err(err).Str("conv_id", convID).Msg("sequence allocation failed")
	}
	turn.Seq = seq

	bufErr := m.buffer.Append(ctx, turn)
	if bufErr != nil {
		log.Warn().Err(bufErr).Str("conv_id", convID).Msg("buffer append failed")
	}
	logErr := m.log.Append(ctx, turn)
	if logErr != nil {
		log.Warn().Err(logErr).Str("conv_id", convID).Msg("durable log append failed")
	}
	if bufErr != nil && logErr != nil {
		return turn, fmt.Errorf("%w: %v", contracts.ErrMemory, errors.Join(bufErr, logErr))
	}
	return turn, nil
}
