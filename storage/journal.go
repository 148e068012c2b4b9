package storage

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"lukechampine.com/blake3"

	"brokerchain/core/events"
	"brokerchain/core/types"
)

var (
	journalEntryPrefix = []byte("evt/")
	journalHeadKey     = []byte("evt-head")

	// ErrCorruptEntry is returned when a stored journal entry fails its
	// checksum.
	ErrCorruptEntry = errors.New("journal: checksum mismatch")
)

// JournalEntry is a single published event together with its sequence number.
type JournalEntry struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Checksum   string            `json:"checksum"`
}

// Journal is an append-only event log stored in LevelDB. It implements
// events.Emitter so it can sit directly behind the node's publisher.
type Journal struct {
	mu     sync.Mutex
	db     *leveldb.DB
	head   uint64
	logger *slog.Logger
}

// OpenJournal opens (or creates) a journal at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return newJournal(db)
}

// NewMemJournal returns a journal that keeps entries in memory.
func NewMemJournal() (*Journal, error) {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return newJournal(db)
}

func newJournal(db *leveldb.DB) (*Journal, error) {
	j := &Journal{db: db, logger: slog.Default()}
	raw, err := db.Get(journalHeadKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		db.Close()
		return nil, err
	case len(raw) == 8:
		j.head = binary.BigEndian.Uint64(raw)
	default:
		db.Close()
		return nil, fmt.Errorf("journal: malformed head pointer")
	}
	return j, nil
}

// SetLogger overrides the logger used to report append failures from Emit.
func (j *Journal) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	j.logger = logger
}

func entryKey(seq uint64) []byte {
	buf := make([]byte, len(journalEntryPrefix)+8)
	copy(buf, journalEntryPrefix)
	binary.BigEndian.PutUint64(buf[len(journalEntryPrefix):], seq)
	return buf
}

func checksum(evtType string, attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := blake3.New(32, nil)
	_, _ = h.Write([]byte(evtType))
	for _, k := range keys {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte{'='})
		_, _ = h.Write([]byte(attrs[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Append persists evt and returns its sequence number. Sequence numbers start
// at 1.
func (j *Journal) Append(evt *types.Event) (uint64, error) {
	if evt == nil {
		return 0, fmt.Errorf("journal: nil event")
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	seq := j.head + 1
	entry := JournalEntry{
		Seq:        seq,
		Type:       evt.Type,
		Attributes: evt.Attributes,
		Checksum:   checksum(evt.Type, evt.Attributes),
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return 0, err
	}
	head := make([]byte, 8)
	binary.BigEndian.PutUint64(head, seq)

	batch := new(leveldb.Batch)
	batch.Put(entryKey(seq), encoded)
	batch.Put(journalHeadKey, head)
	if err := j.db.Write(batch, nil); err != nil {
		return 0, err
	}
	j.head = seq
	return seq, nil
}

// Emit implements events.Emitter.
func (j *Journal) Emit(evt events.Event) {
	payload, ok := events.Payload(evt)
	if !ok {
		return
	}
	if _, err := j.Append(payload); err != nil {
		j.logger.Error("journal append failed", slog.String("type", payload.Type), slog.Any("error", err))
	}
}

// Head returns the sequence number of the latest entry.
func (j *Journal) Head() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.head
}

// Range returns up to limit entries starting at sequence number from.
func (j *Journal) Range(from uint64, limit int) ([]JournalEntry, error) {
	if from == 0 {
		from = 1
	}
	if limit <= 0 {
		limit = 100
	}
	iter := j.db.NewIterator(util.BytesPrefix(journalEntryPrefix), nil)
	defer iter.Release()

	out := make([]JournalEntry, 0, limit)
	for ok := iter.Seek(entryKey(from)); ok && len(out) < limit; ok = iter.Next() {
		var entry JournalEntry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			return nil, fmt.Errorf("journal: decode entry: %w", err)
		}
		if entry.Checksum != checksum(entry.Type, entry.Attributes) {
			return nil, fmt.Errorf("%w at seq %d", ErrCorruptEntry, entry.Seq)
		}
		out = append(out, entry)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
