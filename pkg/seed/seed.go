// Package seed replays provider payload files from a directory through the
// ingest pipeline, mainly to load sample traffic into a fresh instance.
package seed

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"chatrelay/pkg/ingest"
	"chatrelay/pkg/logger"
)

// Stats reports what a replay run did.
type Stats struct {
	Files    int
	Messages int
	Statuses int
	Skipped  int
}

// Replay feeds every *.json file under dir through p in file-name order.
// A bad file is logged and skipped; only a directory read error is fatal.
func Replay(ctx context.Context, dir string, p *ingest.Pipeline) (Stats, error) {
	var st Stats
	entries, err := os.ReadDir(dir)
	if err != nil {
		return st, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		b, rerr := os.ReadFile(filepath.Join(dir, name))
		if rerr != nil {
			logger.Log.Warn("seed_file_unreadable", zap.String("file", name), zap.Error(rerr))
			st.Skipped++
			continue
		}
		rep := p.Process(ctx, b)
		if rep.State == ingest.StateRejected {
			logger.Log.Warn("seed_file_rejected", zap.String("file", name))
			st.Skipped++
			continue
		}
		st.Files++
		st.Messages += rep.MessagesUpserted
		st.Statuses += rep.StatusesApplied
	}
	logger.Log.Info("seed_replay_done",
		zap.String("dir", dir),
		zap.Int("files", st.Files),
		zap.Int("messages", st.Messages),
		zap.Int("statuses", st.Statuses),
		zap.Int("skipped", st.Skipped))
	return st, nil
}
