package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/noah-isme/journal-insights-api/internal/models"
	appErrors "github.com/noah-isme/journal-insights-api/pkg/errors"
)

// Key prefixes for BadgerDB storage
const (
	snapshotKeyPrefix = "snapshot:"
	flagKeyPrefix     = "flag:"
	cursorKeyPrefix   = "cursor:"
)

// OpenBadger opens the embedded store used when STORE_DRIVER=badger.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return db, nil
}

// BadgerSnapshotStore keeps snapshots keyed by their time-ordered ID.
type BadgerSnapshotStore struct {
	db *badger.DB
}

// NewBadgerSnapshotStore creates a BadgerDB-backed snapshot store.
func NewBadgerSnapshotStore(db *badger.DB) *BadgerSnapshotStore {
	return &BadgerSnapshotStore{db: db}
}

// Save writes the snapshot in a single transaction.
func (s *BadgerSnapshotStore) Save(_ context.Context, snapshot *models.AnalyticsSnapshot) error {
	if snapshot.ID == "" {
		snapshot.ID = models.SnapshotID(snapshot.Timestamp)
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(snapshotKeyPrefix+snapshot.ID), data); err != nil {
			return fmt.Errorf("set snapshot: %w", err)
		}
		return nil
	})
}

// Latest returns the newest snapshot.
func (s *BadgerSnapshotStore) Latest(_ context.Context) (*models.AnalyticsSnapshot, error) {
	var snapshot *models.AnalyticsSnapshot
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(snapshotKeyPrefix)
		seek := append([]byte(snapshotKeyPrefix), 0xFF)
		it.Seek(seek)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		return it.Item().Value(func(val []byte) error {
			snapshot = &models.AnalyticsSnapshot{}
			return json.Unmarshal(val, snapshot)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	if snapshot == nil {
		return nil, appErrors.ErrNotFound
	}
	return snapshot, nil
}

// Since returns snapshots taken at or after since, oldest first.
func (s *BadgerSnapshotStore) Since(_ context.Context, since time.Time) ([]models.AnalyticsSnapshot, error) {
	var snapshots []models.AnalyticsSnapshot
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(snapshotKeyPrefix)
		for it.Seek([]byte(snapshotKeyPrefix + models.SnapshotID(since))); it.ValidForPrefix(prefix); it.Next() {
			var snapshot models.AnalyticsSnapshot
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snapshot)
			}); err != nil {
				return err
			}
			snapshots = append(snapshots, snapshot)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots since: %w", err)
	}
	return snapshots, nil
}

// flagRecord carries the processed entry IDs, which are hidden from the
// public JSON form of a flag.
type flagRecord struct {
	Flag              models.StudentFlag `json:"flag"`
	ProcessedEntryIDs []string           `json:"processed_entry_ids"`
}

func flagKey(key models.FlagKey) []byte {
	return []byte(flagKeyPrefix + key.StudentID + "|" + string(key.IssueType))
}

func readFlag(item *badger.Item) (*models.StudentFlag, error) {
	var record flagRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &record)
	}); err != nil {
		return nil, err
	}
	flag := record.Flag
	flag.ProcessedEntryIDs = record.ProcessedEntryIDs
	return &flag, nil
}

func writeFlag(txn *badger.Txn, flag *models.StudentFlag) error {
	data, err := json.Marshal(flagRecord{Flag: *flag, ProcessedEntryIDs: flag.ProcessedEntryIDs})
	if err != nil {
		return fmt.Errorf("marshal flag: %w", err)
	}
	return txn.Set(flagKey(flag.Key()), data)
}

// BadgerFlagStore keeps one record per (student, issue type).
type BadgerFlagStore struct {
	db *badger.DB
}

// NewBadgerFlagStore creates a BadgerDB-backed flag store.
func NewBadgerFlagStore(db *badger.DB) *BadgerFlagStore {
	return &BadgerFlagStore{db: db}
}

// Get returns one flag or ErrNotFound.
func (s *BadgerFlagStore) Get(_ context.Context, key models.FlagKey) (*models.StudentFlag, error) {
	var flag *models.StudentFlag
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(flagKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return appErrors.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get flag: %w", err)
		}
		flag, err = readFlag(item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return flag, nil
}

// Upsert writes the flag. Resource delivery fields already stored win over
// the incoming values.
func (s *BadgerFlagStore) Upsert(_ context.Context, flag *models.StudentFlag) error {
	return s.db.Update(func(txn *badger.Txn) error {
		next := *flag
		item, err := txn.Get(flagKey(flag.Key()))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("get flag: %w", err)
		default:
			existing, err := readFlag(item)
			if err != nil {
				return err
			}
			next.ResourcesDelivered = existing.ResourcesDelivered
			next.ResourcesDeliveredAt = existing.ResourcesDeliveredAt
			next.DeliveredResourcesCount = existing.DeliveredResourcesCount
		}
		return writeFlag(txn, &next)
	})
}

// List returns flags matching filter, most recently flagged first.
func (s *BadgerFlagStore) List(_ context.Context, filter models.FlagFilter) ([]models.StudentFlag, error) {
	var flags []models.StudentFlag
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(flagKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			flag, err := readFlag(it.Item())
			if err != nil {
				return err
			}
			if matchesFlagFilter(flag, filter) {
				flags = append(flags, *flag)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	sort.SliceStable(flags, func(i, j int) bool {
		return flags[i].DateLastFlagged.After(flags[j].DateLastFlagged)
	})
	return flags, nil
}

// MarkResourcesDelivered sets the delivery marker and adds count.
func (s *BadgerFlagStore) MarkResourcesDelivered(_ context.Context, key models.FlagKey, count int, at time.Time) (*models.StudentFlag, error) {
	var flag *models.StudentFlag
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(flagKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return appErrors.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get flag: %w", err)
		}
		flag, err = readFlag(item)
		if err != nil {
			return err
		}
		if flag.ResourcesDeliveredAt == nil {
			flag.ResourcesDeliveredAt = &at
		}
		flag.ResourcesDelivered = true
		flag.DeliveredResourcesCount += count
		flag.LastUpdated = at
		return writeFlag(txn, flag)
	})
	if err != nil {
		return nil, err
	}
	return flag, nil
}

// ClearAll deletes every flag and reports how many were removed.
func (s *BadgerFlagStore) ClearAll(_ context.Context) (int, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(flagKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan flags: %w", err)
	}

	batch := s.db.NewWriteBatch()
	defer batch.Cancel()
	for _, key := range keys {
		if err := batch.Delete(key); err != nil {
			return 0, fmt.Errorf("delete flag: %w", err)
		}
	}
	if err := batch.Flush(); err != nil {
		return 0, fmt.Errorf("flush flag deletes: %w", err)
	}
	return len(keys), nil
}

// BadgerCursorStore keeps one cursor per entry source.
type BadgerCursorStore struct {
	db *badger.DB
}

// NewBadgerCursorStore creates a BadgerDB-backed cursor store.
func NewBadgerCursorStore(db *badger.DB) *BadgerCursorStore {
	return &BadgerCursorStore{db: db}
}

// Get returns the cursor for source or ErrNotFound.
func (s *BadgerCursorStore) Get(_ context.Context, source string) (*models.AnalysisCursor, error) {
	var cursor models.AnalysisCursor
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cursorKeyPrefix + source))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return appErrors.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get cursor: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cursor)
		})
	})
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}

// Advance stores cursor as the source's position.
func (s *BadgerCursorStore) Advance(_ context.Context, cursor models.AnalysisCursor) error {
	if cursor.UpdatedAt.IsZero() {
		cursor.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(cursorKeyPrefix+cursor.Source), data)
	})
}

func matchesFlagFilter(flag *models.StudentFlag, filter models.FlagFilter) bool {
	if filter.IssueType != "" && flag.IssueType != filter.IssueType {
		return false
	}
	if filter.DistrictID != "" && flag.DistrictID != filter.DistrictID {
		return false
	}
	if filter.SchoolID != "" && flag.SchoolID != filter.SchoolID {
		return false
	}
	if filter.ClassID != "" && flag.ClassID != filter.ClassID {
		return false
	}
	if filter.StudentID != "" && flag.StudentID != filter.StudentID {
		return false
	}
	if filter.ResourcesDelivered != nil && flag.ResourcesDelivered != *filter.ResourcesDelivered {
		return false
	}
	return true
}
