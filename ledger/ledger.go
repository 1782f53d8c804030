// Package ledger persists completed transfers as an append-only history.
//
// Records live in a lode dataset with a Hive layout partitioned by
// transfer_type and day, encoded as JSONL. Every Append is its own
// snapshot; reads walk snapshots newest first.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"

	"github.com/Kovercrosser/easy-cold-storage-uploader/types"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "ecsu"

// Ledger reads and appends transfer records.
type Ledger struct {
	dataset lode.Dataset
	mu      sync.Mutex // serializes appends
}

// NewFS opens a ledger rooted at a local directory.
func NewFS(root string) (*Ledger, error) {
	return NewWithFactory(DefaultDataset, lode.NewFSFactory(root))
}

// NewWithFactory opens a ledger on a custom store factory.
// Tests pass a shared lode.NewMemory() store.
func NewWithFactory(dataset string, factory lode.StoreFactory) (*Ledger, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	ds, err := lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout("transfer_type", "day"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, wrapError(err, "init", dataset)
	}
	return &Ledger{dataset: ds}, nil
}

// Append writes rec as a new snapshot.
func (l *Ledger) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("ledger record id is required")
	}
	if _, err := types.ParseTransferType(string(rec.TransferType)); err != nil {
		return err
	}
	if rec.UploadedAt.IsZero() {
		return errors.New("ledger record timestamp is required")
	}
	m, err := toRecordMap(rec)
	if err != nil {
		return fmt.Errorf("encode ledger record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.dataset.Write(ctx, []any{m}, lode.Metadata{}); err != nil {
		return wrapError(err, "append", string(l.dataset.ID()))
	}
	return nil
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	// Type keeps records of one transfer type.
	Type types.TransferType
	// Limit caps the number of records returned; 0 is unlimited.
	Limit int
}

// List returns records newest first.
func (l *Ledger) List(ctx context.Context, f Filter) ([]Record, error) {
	var out []Record
	err := l.walk(ctx, f.Type, func(r Record) bool {
		out = append(out, r)
		return f.Limit <= 0 || len(out) < f.Limit
	})
	return out, err
}

// Find returns the newest record matching pred, or ErrNotFound.
func (l *Ledger) Find(ctx context.Context, pred func(Record) bool) (Record, error) {
	var (
		found Record
		ok    bool
	)
	err := l.walk(ctx, "", func(r Record) bool {
		if pred(r) {
			found, ok = r, true
			return false
		}
		return true
	})
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, ErrNotFound
	}
	return found, nil
}

// FindByID resolves id against archive IDs first, then record IDs.
func (l *Ledger) FindByID(ctx context.Context, id string) (Record, error) {
	if id == "" {
		return Record{}, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	rec, err := l.Find(ctx, func(r Record) bool { return r.Info.ArchiveID == id })
	if err == nil || !errors.Is(err, ErrNotFound) {
		return rec, err
	}
	rec, err = l.Find(ctx, func(r Record) bool { return r.ID == id })
	if errors.Is(err, ErrNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// walk visits records newest first until visit returns false.
func (l *Ledger) walk(ctx context.Context, transferType types.TransferType, visit func(Record) bool) error {
	snapshots, err := l.dataset.Snapshots(ctx)
	if err != nil {
		return wrapError(err, "list", string(l.dataset.ID()))
	}

	// Snapshots are ordered by creation time.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if transferType != "" && !snapshotInPartition(snap, "transfer_type", string(transferType)) {
			continue
		}

		data, err := l.dataset.Read(ctx, snap.ID)
		if err != nil {
			return wrapError(err, "read", fmt.Sprintf("%s/snapshot/%s", l.dataset.ID(), snap.ID))
		}

		// A snapshot holds one record today; walk them backwards anyway so
		// order stays newest first if batches are ever written.
		for j := len(data) - 1; j >= 0; j-- {
			m, ok := data[j].(map[string]any)
			if !ok {
				continue
			}
			rec, err := fromRecordMap(m)
			if err != nil {
				return err
			}
			if transferType != "" && rec.TransferType != transferType {
				continue
			}
			if !visit(rec) {
				return nil
			}
		}
	}
	return nil
}

// snapshotInPartition reports whether any file of snap sits under the exact
// key=value Hive segment.
func snapshotInPartition(snap *lode.DatasetSnapshot, key, value string) bool {
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		for _, part := range strings.Split(f.Path, "/") {
			if part == segment {
				return true
			}
		}
	}
	return false
}
