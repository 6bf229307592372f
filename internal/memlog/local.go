// Package memlog provides the durable per-day append log of
// conversation turns: one NDJSON file per conversation per UTC day,
// the source of truth the fast buffer is rebuilt from.
package memlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/panrag/panrag/pkg/contracts"
	"github.com/panrag/panrag/pkg/models"
)

// dayLayout names day log files: <conv_id>/2006-01-02.ndjson.
const dayLayout = "2006-01-02"

// LocalLog appends day logs to the local filesystem. It is the default
// driver when no S3 bucket is configured, and what tests run against.
type LocalLog struct {
	root string
}

func NewLocalLog(root string) *LocalLog {
	return &LocalLog{root: root}
}

func (l *LocalLog) path(convID string, day time.Time) string {
	return filepath.Join(l.root, convID, day.UTC().Format(dayLayout)+".ndjson")
}

// Append writes one JSON line to the conversation's log for the turn's day.
func (l *LocalLog) Append(_ context.Context, turn models.ConversationTurn) error {
	p := l.path(turn.ConvID, turn.Timestamp)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrMemory, err)
	}
	line, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrMemory, err)
	}
	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrMemory, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrMemory, err)
	}
	return nil
}

// ReadDay returns the turns logged for a conversation on the given day.
// A missing file is an empty day, not an error; unparseable lines are skipped.
func (l *LocalLog) ReadDay(_ context.Context, convID string, day time.Time) ([]models.ConversationTurn, error) {
	f, err := os.Open(l.path(convID, day))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", contracts.ErrMemory, err)
	}
	defer f.Close()
	return decodeLines(bufio.NewScanner(f)), nil
}

func decodeLines(sc *bufio.Scanner) []models.ConversationTurn {
	var out []models.ConversationTurn
	for sc.Scan() {
		var t models.ConversationTurn
		if err := json.Unmarshal(sc.Bytes(), &t); err != nil {
			continue // torn or corrupt line
		}
		out = append(out, t)
	}
	return out
}
