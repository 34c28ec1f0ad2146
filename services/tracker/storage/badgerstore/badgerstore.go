// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore implements the storage capability on BadgerDB.
//
// BadgerDB gives the tracker low-latency embedded storage for its local
// (ground truth) store. Key layout:
//
//	s:<uuid>                   StudySession (JSON)
//	l:<created-nanos>:<uuid>   Log (JSON); key order is creation order
//	li:<uuid>                  log id -> full log key (patch index)
//	v:<key>                    Variable (JSON)
//
// Record volumes here are homelab-scale (hundreds of sessions, thousands of
// logs), so table scans behind prefix iterators are acceptable; no secondary
// indexes beyond the log id index are maintained.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/HIALocal/services/tracker/datatypes"
	"github.com/AleutianAI/HIALocal/services/tracker/storage"
)

const (
	sessionPrefix  = "s:"
	logPrefix      = "l:"
	logIndexPrefix = "li:"
	variablePrefix = "v:"

	// alertScanLimit bounds the unacknowledged-alert scan, newest first.
	alertScanLimit = 100
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds configuration for a BadgerDB-backed store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. If nil, it is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: persistent, synchronous writes.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns configuration optimized for testing: in-memory,
// asynchronous writes.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// Store
// =============================================================================

// Store implements storage.Store on BadgerDB.
type Store struct {
	db *badger.DB
}

var _ storage.Store = (*Store)(nil)

// Open creates and opens a BadgerDB-backed store.
//
// # Description
//
// Opens a BadgerDB database at the configured path, or in memory if InMemory
// is true. Creates the directory if it doesn't exist.
//
// # Inputs
//
//   - cfg: store configuration. Path is required unless InMemory is true.
//
// # Outputs
//
//   - *Store: the opened store. Caller must call Close() when done.
//   - error: non-nil if the path is invalid or the database cannot open.
//
// # Thread Safety
//
// The returned store is safe for concurrent use.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an in-memory store for testing. Data is lost on Close.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// Sessions
// =============================================================================

func (s *Store) ActiveSession(ctx context.Context) (*datatypes.StudySession, error) {
	var found *datatypes.StudySession
	err := s.db.View(func(txn *badger.Txn) error {
		return forEachPrefix(txn, sessionPrefix, func(val []byte) error {
			var sess datatypes.StudySession
			if err := json.Unmarshal(val, &sess); err != nil {
				return fmt.Errorf("decode session: %w", err)
			}
			if sess.Status == datatypes.StatusActive {
				found = &sess
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, storage.ErrNotFound
	}
	return found, nil
}

func (s *Store) SessionByID(ctx context.Context, id string) (*datatypes.StudySession, error) {
	var sess datatypes.StudySession
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) CreateSession(ctx context.Context, draft datatypes.SessionDraft) (*datatypes.StudySession, error) {
	sess := datatypes.StudySession{
		ID:                 uuid.NewString(),
		CreatedAt:          time.Now().UTC(),
		StartedAt:          draft.StartedAt,
		PlannedDurationSec: draft.PlannedDurationSec,
		Subject:            draft.Subject,
		Status:             draft.Status,
	}
	if err := s.putSession(&sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) PatchSession(ctx context.Context, id string, patch datatypes.SessionPatch) error {
	sess, err := s.SessionByID(ctx, id)
	if err != nil {
		return err
	}
	if patch.EndedAt != nil {
		sess.EndedAt = patch.EndedAt
	}
	if patch.Status != "" {
		sess.Status = patch.Status
	}
	if patch.EndNote != "" {
		sess.EndNote = patch.EndNote
	}
	if patch.Timeline != nil {
		sess.Timeline = patch.Timeline
	}
	if patch.Summary != "" {
		sess.Summary = patch.Summary
	}
	return s.putSession(sess)
}

func (s *Store) ListSessions(ctx context.Context, page, perPage int) ([]datatypes.StudySession, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	var all []datatypes.StudySession
	err := s.db.View(func(txn *badger.Txn) error {
		return forEachPrefix(txn, sessionPrefix, func(val []byte) error {
			var sess datatypes.StudySession
			if err := json.Unmarshal(val, &sess); err != nil {
				return fmt.Errorf("decode session: %w", err)
			}
			all = append(all, sess)
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	start := (page - 1) * perPage
	if start >= total {
		return []datatypes.StudySession{}, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

// SweepTestSessions cascade-deletes stale test sessions and their logs.
//
// A session qualifies when its subject matches the test-session heuristic,
// it started before olderThan, and it is not active.
func (s *Store) SweepTestSessions(ctx context.Context, olderThan time.Time) (int, error) {
	var victims []string
	err := s.db.View(func(txn *badger.Txn) error {
		return forEachPrefix(txn, sessionPrefix, func(val []byte) error {
			var sess datatypes.StudySession
			if err := json.Unmarshal(val, &sess); err != nil {
				return fmt.Errorf("decode session: %w", err)
			}
			if sess.Status == datatypes.StatusActive {
				return nil
			}
			if !datatypes.IsTestSubject(sess.Subject) {
				return nil
			}
			if !sess.StartedAt.Before(olderThan) {
				return nil
			}
			victims = append(victims, sess.ID)
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	for _, id := range victims {
		logs, err := s.LogsBySession(ctx, id, true)
		if err != nil {
			return 0, err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			for _, l := range logs {
				if err := txn.Delete(logKey(l)); err != nil {
					return err
				}
				if err := txn.Delete([]byte(logIndexPrefix + l.ID)); err != nil {
					return err
				}
			}
			return txn.Delete([]byte(sessionPrefix + id))
		})
		if err != nil {
			return 0, fmt.Errorf("sweep session %s: %w", id, err)
		}
	}
	return len(victims), nil
}

func (s *Store) putSession(sess *datatypes.StudySession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionPrefix+sess.ID), data)
	})
}

// =============================================================================
// Logs
// =============================================================================

// logKey rebuilds a log's full key from its record. Creation nanos lead the
// key so lexicographic iteration is chronological.
func logKey(l datatypes.Log) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", logPrefix, l.CreatedAt.UnixNano(), l.ID))
}

func (s *Store) AppendLog(ctx context.Context, draft datatypes.LogDraft) (*datatypes.Log, error) {
	log := datatypes.Log{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Type:      draft.Type,
		Message:   draft.Message,
		Metadata:  draft.Metadata,
		Session:   draft.Session,
	}
	if err := s.putLog(&log); err != nil {
		return nil, err
	}
	return &log, nil
}

func (s *Store) LogsBySession(ctx context.Context, sessionID string, ascending bool) ([]datatypes.Log, error) {
	logs, err := s.scanLogs(func(l *datatypes.Log) bool { return l.Session == sessionID })
	if err != nil {
		return nil, err
	}
	if !ascending {
		reverseLogs(logs)
	}
	return logs, nil
}

func (s *Store) RecentLogs(ctx context.Context, limit int) ([]datatypes.Log, error) {
	if limit < 1 {
		limit = 20
	}
	logs, err := s.scanLogs(nil)
	if err != nil {
		return nil, err
	}
	reverseLogs(logs)
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *Store) UnacknowledgedAlerts(ctx context.Context) ([]datatypes.Log, error) {
	alert := make(map[datatypes.LogType]bool, len(datatypes.AlertLogTypes))
	for _, t := range datatypes.AlertLogTypes {
		alert[t] = true
	}
	logs, err := s.scanLogs(func(l *datatypes.Log) bool {
		return alert[l.Type] && !l.Acknowledged()
	})
	if err != nil {
		return nil, err
	}
	reverseLogs(logs)
	if len(logs) > alertScanLimit {
		logs = logs[:alertScanLimit]
	}
	return logs, nil
}

func (s *Store) PatchLogMetadata(ctx context.Context, id string, metadata map[string]any) error {
	return s.db.Update(func(txn *badger.Txn) error {
		idxItem, err := txn.Get([]byte(logIndexPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		var key []byte
		if err := idxItem.Value(func(val []byte) error {
			key = append([]byte(nil), val...)
			return nil
		}); err != nil {
			return err
		}

		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var log datatypes.Log
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &log)
		}); err != nil {
			return err
		}
		log.Metadata = metadata
		data, err := json.Marshal(&log)
		if err != nil {
			return fmt.Errorf("encode log: %w", err)
		}
		return txn.Set(key, data)
	})
}

func (s *Store) putLog(log *datatypes.Log) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("encode log: %w", err)
	}
	key := logKey(*log)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set([]byte(logIndexPrefix+log.ID), key)
	})
}

// scanLogs iterates all logs in creation order, keeping those the filter
// accepts (nil filter keeps everything).
func (s *Store) scanLogs(keep func(*datatypes.Log) bool) ([]datatypes.Log, error) {
	var logs []datatypes.Log
	err := s.db.View(func(txn *badger.Txn) error {
		return forEachPrefix(txn, logPrefix, func(val []byte) error {
			var l datatypes.Log
			if err := json.Unmarshal(val, &l); err != nil {
				return fmt.Errorf("decode log: %w", err)
			}
			if keep == nil || keep(&l) {
				logs = append(logs, l)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func reverseLogs(logs []datatypes.Log) {
	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
}

// =============================================================================
// Variables
// =============================================================================

func (s *Store) Variable(ctx context.Context, key string) (*datatypes.Variable, error) {
	var v datatypes.Variable
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(variablePrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) UpsertVariable(ctx context.Context, key string, value any) error {
	existing, err := s.Variable(ctx, key)
	v := datatypes.Variable{Key: key, Value: value}
	switch {
	case err == nil:
		// Keep identity and creation time of the singleton row.
		v.ID = existing.ID
		v.CreatedAt = existing.CreatedAt
	case errors.Is(err, storage.ErrNotFound):
		v.ID = uuid.NewString()
		v.CreatedAt = time.Now().UTC()
	default:
		return err
	}

	data, err := json.Marshal(&v)
	if err != nil {
		return fmt.Errorf("encode variable: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(variablePrefix+key), data)
	})
}

func (s *Store) DeleteVariable(ctx context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(variablePrefix + key))
	})
}

// =============================================================================
// Bulk Operations
// =============================================================================

func (s *Store) Counts(ctx context.Context) (storage.Counts, error) {
	var c storage.Counts
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if c.Sessions, err = countPrefix(txn, sessionPrefix); err != nil {
			return err
		}
		if c.Logs, err = countPrefix(txn, logPrefix); err != nil {
			return err
		}
		c.Variables, err = countPrefix(txn, variablePrefix)
		return err
	})
	return c, err
}

func (s *Store) ExportAll(ctx context.Context) (*datatypes.Snapshot, error) {
	snap := &datatypes.Snapshot{
		Sessions:  []datatypes.StudySession{},
		Logs:      []datatypes.Log{},
		Variables: []datatypes.Variable{},
	}
	err := s.db.View(func(txn *badger.Txn) error {
		if err := forEachPrefix(txn, sessionPrefix, func(val []byte) error {
			var sess datatypes.StudySession
			if err := json.Unmarshal(val, &sess); err != nil {
				return err
			}
			snap.Sessions = append(snap.Sessions, sess)
			return nil
		}); err != nil {
			return err
		}
		if err := forEachPrefix(txn, logPrefix, func(val []byte) error {
			var l datatypes.Log
			if err := json.Unmarshal(val, &l); err != nil {
				return err
			}
			snap.Logs = append(snap.Logs, l)
			return nil
		}); err != nil {
			return err
		}
		return forEachPrefix(txn, variablePrefix, func(val []byte) error {
			var v datatypes.Variable
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			snap.Variables = append(snap.Variables, v)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return snap, nil
}

// ImportAll bulk-inserts a snapshot.
//
// Session identities are remapped to fresh local identities, and log session
// references follow the mapping (refs without a mapping are dropped).
// Creation timestamps are preserved so divergence tokens converge after a
// reconciliation import.
func (s *Store) ImportAll(ctx context.Context, snap *datatypes.Snapshot) error {
	idMap := make(map[string]string, len(snap.Sessions))
	for _, sess := range snap.Sessions {
		imported := sess
		imported.ID = uuid.NewString()
		idMap[sess.ID] = imported.ID
		if err := s.putSession(&imported); err != nil {
			return fmt.Errorf("import session: %w", err)
		}
	}
	for _, l := range snap.Logs {
		imported := l
		imported.ID = uuid.NewString()
		if mapped, ok := idMap[l.Session]; ok {
			imported.Session = mapped
		} else {
			imported.Session = ""
		}
		if err := s.putLog(&imported); err != nil {
			return fmt.Errorf("import log: %w", err)
		}
	}
	for _, v := range snap.Variables {
		imported := v
		imported.ID = uuid.NewString()
		data, err := json.Marshal(&imported)
		if err != nil {
			return fmt.Errorf("encode variable: %w", err)
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(variablePrefix+imported.Key), data)
		})
		if err != nil {
			return fmt.Errorf("import variable: %w", err)
		}
	}
	return nil
}

func (s *Store) ClearAll(ctx context.Context) error {
	for _, prefix := range []string{sessionPrefix, logPrefix, logIndexPrefix, variablePrefix} {
		var keys [][]byte
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = []byte(prefix)
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Rewind(); it.Valid(); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			return nil
		})
		if err != nil {
			return err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("clear %s: %w", prefix, err)
		}
	}
	return nil
}

// DivergenceToken collapses row counts and the latest creation timestamp of
// each table into one comparable token: "Ns|Nst|Nl|Nlt|Nv|Nvt".
func (s *Store) DivergenceToken(ctx context.Context) (string, error) {
	snap, err := s.ExportAll(ctx)
	if err != nil {
		return "", err
	}
	var latestSession, latestLog, latestVar int64
	for _, sess := range snap.Sessions {
		if t := sess.CreatedAt.UnixMilli(); t > latestSession {
			latestSession = t
		}
	}
	for _, l := range snap.Logs {
		if t := l.CreatedAt.UnixMilli(); t > latestLog {
			latestLog = t
		}
	}
	for _, v := range snap.Variables {
		if t := v.CreatedAt.UnixMilli(); t > latestVar {
			latestVar = t
		}
	}
	parts := []string{
		fmt.Sprintf("%d", len(snap.Sessions)), fmt.Sprintf("%d", latestSession),
		fmt.Sprintf("%d", len(snap.Logs)), fmt.Sprintf("%d", latestLog),
		fmt.Sprintf("%d", len(snap.Variables)), fmt.Sprintf("%d", latestVar),
	}
	return strings.Join(parts, "|"), nil
}

// =============================================================================
// Iteration Helpers
// =============================================================================

func forEachPrefix(txn *badger.Txn, prefix string, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func countPrefix(txn *badger.Txn, prefix string) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()
	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n, nil
}
