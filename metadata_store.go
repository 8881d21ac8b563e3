package raft

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/katla-db/raft/raftpb"
	bolt "go.etcd.io/bbolt"
)

const (
	dbFileName = "raft.db"

	bucketMetadata = "raft_metadata"
	bucketLog      = "raft_log"

	keyCurrentTerm = "current_term"
	keyVotedFor    = "voted_for"

	// logEntryWireVersion is the leading version byte of every serialized
	// LogEntry, so future wire changes stay self-describing on disk.
	logEntryWireVersion byte = 1

	// noVotedFor is the sentinel byte value meaning "voted_for absent".
	noVotedFor byte = 0
)

// MetadataStore is C1, the persistent metadata store: current_term,
// voted_for and the replicated log, durably held in a single bbolt database
// file under DataDir. One bucket holds the two metadata keys; a second
// bucket holds the log, keyed by big-endian uint64 index so bbolt's cursor
// traversal gives ascending iteration for free.
type MetadataStore struct {
	db *bolt.DB
}

// NewMetadataStore opens (creating if necessary) the bbolt database under
// dataDir and ensures both buckets exist.
func NewMetadataStore(dataDir string) (*MetadataStore, error) {
	if dataDir == "" {
		return nil, ErrDataDirRequired
	}
	if err := createDirectoryIfNotExist(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("raft: creating data dir %s: %w", dataDir, err)
	}
	db, err := bolt.Open(filepath.Join(dataDir, dbFileName), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("raft: opening metadata store: %w", err)
	}
	store := &MetadataStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MetadataStore) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketMetadata)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(bucketLog))
		return err
	})
}

// Close releases the underlying bbolt database file.
func (s *MetadataStore) Close() error {
	return s.db.Close()
}

// CurrentTerm reads current_term. A missing key is treated as term 0.
func (s *MetadataStore) CurrentTerm() (Term, error) {
	var term Term
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketMetadata)).Get([]byte(keyCurrentTerm))
		if v == nil {
			term = 0
			return nil
		}
		if len(v) != 8 {
			return fmt.Errorf("raft: %w: current_term has %d bytes", ErrSerialization, len(v))
		}
		term = Term(binary.LittleEndian.Uint64(v))
		return nil
	})
	return term, err
}

// SetCurrentTerm durably writes current_term.
func (s *MetadataStore) SetCurrentTerm(term Term) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(term))
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketMetadata)).Put([]byte(keyCurrentTerm), buf)
	})
}

// VotedFor reads voted_for. A missing key or the "none" sentinel yields
// (nil, nil), matching "missing voted_for is treated as none".
func (s *MetadataStore) VotedFor() (*ServerID, error) {
	var id *ServerID
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketMetadata)).Get([]byte(keyVotedFor))
		if v == nil || (len(v) == 1 && v[0] == noVotedFor) {
			return nil
		}
		if len(v) != 3 || v[0] != 1 {
			return fmt.Errorf("raft: %w: voted_for has unexpected layout", ErrSerialization)
		}
		sid := ServerID(binary.LittleEndian.Uint16(v[1:3]))
		id = &sid
		return nil
	})
	return id, err
}

// SetVotedFor durably writes voted_for. A nil argument persists "none".
func (s *MetadataStore) SetVotedFor(id *ServerID) error {
	var buf []byte
	if id == nil {
		buf = []byte{noVotedFor}
	} else {
		buf = make([]byte, 3)
		buf[0] = 1
		binary.LittleEndian.PutUint16(buf[1:3], uint16(*id))
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketMetadata)).Put([]byte(keyVotedFor), buf)
	})
}

// encodeLogEntry serializes one LogEntry with a leading version byte,
// delegating the field layout to raftpb so the on-disk format matches the
// wire format byte for byte.
func encodeLogEntry(e LogEntry) []byte {
	pb := &raftpb.LogEntry{Term: uint64(e.Term)}
	for _, d := range e.Deltas {
		pb.Deltas = append(pb.Deltas, &raftpb.StateDelta{
			Kind:    raftpb.DeltaKind(d.Kind),
			TxID:    d.TxID,
			Payload: d.Payload,
		})
	}
	body := pb.Marshal()
	out := make([]byte, 0, len(body)+1)
	out = append(out, logEntryWireVersion)
	out = append(out, body...)
	return out
}

func decodeLogEntry(b []byte) (LogEntry, error) {
	if len(b) == 0 {
		return LogEntry{}, fmt.Errorf("raft: %w: empty log entry", ErrSerialization)
	}
	if b[0] != logEntryWireVersion {
		return LogEntry{}, fmt.Errorf("raft: %w: unsupported log entry version %d", ErrSerialization, b[0])
	}
	pb := &raftpb.LogEntry{}
	if err := pb.Unmarshal(b[1:]); err != nil {
		return LogEntry{}, fmt.Errorf("raft: %w: %v", ErrSerialization, err)
	}
	entry := LogEntry{Term: Term(pb.Term)}
	for _, d := range pb.Deltas {
		entry.Deltas = append(entry.Deltas, StateDelta{
			Kind:    DeltaKind(d.Kind),
			TxID:    d.TxID,
			Payload: d.Payload,
		})
	}
	return entry, nil
}

func encodeIndex(index uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, index)
	return buf
}

func decodeIndex(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// AppendLogEntries persists entries starting at startIndex, overwriting any
// conflicting suffix already on disk at those indexes. Callers (the Raft
// server) are responsible for calling DeleteLogSuffix first when the
// consistency check found a conflict; AppendLogEntries itself simply writes.
func (s *MetadataStore) AppendLogEntries(startIndex uint64, entries []LogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketLog))
		for i, e := range entries {
			if err := bucket.Put(encodeIndex(startIndex+uint64(i)), encodeLogEntry(e)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetLogEntry returns the entry at index, or ErrLogNotFound.
func (s *MetadataStore) GetLogEntry(index uint64) (LogEntry, error) {
	var entry LogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketLog)).Get(encodeIndex(index))
		if v == nil {
			return ErrLogNotFound
		}
		e, err := decodeLogEntry(v)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	return entry, err
}

// GetLogSuffix returns every entry at index >= fromIndex, in ascending
// index order.
func (s *MetadataStore) GetLogSuffix(fromIndex uint64) ([]LogEntry, error) {
	var out []LogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket([]byte(bucketLog)).Cursor()
		for k, v := cursor.Seek(encodeIndex(fromIndex)); k != nil; k, v = cursor.Next() {
			e, err := decodeLogEntry(v)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// DeleteLogSuffix removes every entry at index >= fromIndex. Used by the
// follower's consistency check to truncate a conflicting suffix, per
// §4.5 step 4.
func (s *MetadataStore) DeleteLogSuffix(fromIndex uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketLog))
		cursor := bucket.Cursor()
		var keys [][]byte
		for k, _ := cursor.Seek(encodeIndex(fromIndex)); k != nil; k, _ = cursor.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// LastLogIndex returns the highest index stored, or 0 for an empty log.
func (s *MetadataStore) LastLogIndex() (uint64, error) {
	var index uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket([]byte(bucketLog)).Cursor().Last()
		if k == nil {
			index = 0
			return nil
		}
		index = decodeIndex(k)
		return nil
	})
	return index, err
}
