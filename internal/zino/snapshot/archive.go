package snapshot

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/zinolabs/zino/internal/zino/model"
	"github.com/zinolabs/zino/internal/zino/store"
)

// Archiver writes every event that closes to its own JSON file in Dir,
// named by event id. It is registered as a store observer; archive
// failures are logged and swallowed, since the commit has already
// completed and the operator-facing state must not depend on disk.
type Archiver struct {
	Dir    string
	Logger *slog.Logger
}

// Observer returns the store.Observer that performs the archiving.
func (a *Archiver) Observer() store.Observer {
	return func(newEvent, oldEvent *model.Event, _ []string) {
		if newEvent.State != model.StateClosed {
			return
		}
		if oldEvent != nil && oldEvent.State == model.StateClosed {
			return
		}
		if err := a.write(newEvent); err != nil {
			a.Logger.Error("failed to archive closed event",
				slog.Int("event_id", newEvent.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (a *Archiver) write(ev *model.Event) error {
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(EncodeEvent(ev), "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(a.Dir, strconv.Itoa(ev.ID)+".json")
	return os.WriteFile(path, data, 0o644)
}
