package spool

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ptgott/redisstore/chunk"
	"github.com/ptgott/redisstore/output"
	"github.com/ptgott/redisstore/storage"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

// rejectPrefix namespaces journal keys
var rejectPrefix = []byte("rejects/")

// Reject is a record the output stage skipped, as kept in the journal
type Reject struct {
	Entry      output.Entry `msgpack:"-"`
	Chunk      []byte       `msgpack:"chunk"` // the entry, chunk-encoded
	Reason     string       `msgpack:"reason"`
	RejectedAt time.Time    `msgpack:"rejected_at"`
}

// Rejects journals skipped records to a KeyValue store. Journaling is best
// effort: a record that can't be journaled is still only logged.
type Rejects struct {
	db  storage.KeyValue
	now func() time.Time
}

// NewRejects returns a journal backed by db
func NewRejects(db storage.KeyValue) *Rejects {
	return &Rejects{db: db, now: time.Now}
}

// Record is an output.SkipHandler
func (r *Rejects) Record(e output.Entry, reason error) {
	c, err := chunk.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("tag", e.Tag).Msg("can't encode a skipped record for the journal")
		return
	}

	now := r.now()
	b, err := msgpack.Marshal(&Reject{
		Chunk:      c,
		Reason:     reason.Error(),
		RejectedAt: now,
	})
	if err != nil {
		log.Error().Err(err).Str("tag", e.Tag).Msg("can't encode a skipped record for the journal")
		return
	}

	// Sortable by rejection time, unique thanks to the UUID
	key := fmt.Sprintf("%s%020d/%s", rejectPrefix, now.UnixNano(), uuid.NewString())
	err = r.db.Put(storage.KVEntry{Key: []byte(key), Value: b})
	if err != nil {
		log.Error().Err(err).Str("tag", e.Tag).Msg("can't journal a skipped record")
	}
}

// Each calls fn for every journaled record, oldest first
func (r *Rejects) Each(fn func(Reject) error) error {
	return r.db.Scan(rejectPrefix, func(kv storage.KVEntry) error {
		var rj Reject
		if err := msgpack.Unmarshal(kv.Value, &rj); err != nil {
			return fmt.Errorf("can't decode journal entry %q: %v", kv.Key, err)
		}
		entries, err := chunk.Decode(bytes.NewReader(rj.Chunk))
		if err != nil {
			return err
		}
		if len(entries) != 1 {
			return fmt.Errorf("journal entry %q holds %v records", kv.Key, len(entries))
		}
		rj.Entry = entries[0]
		return fn(rj)
	})
}
