package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/cockroachdb/pebble"
	"github.com/saworbit/hangfuzz/pkg/cas"
)

// ErrSessionNotFound is returned when no session matches the requested id.
var ErrSessionNotFound = errors.New("session not found")

// ListSessions returns all recorded sessions, newest first.
func ListSessions(db *pebble.DB) ([]SessionRecord, error) {
	iter, err := newPrefixIter(db, cas.PrefixSession)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var sessions []SessionRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var s SessionRecord
		if err := json.Unmarshal(iter.Value(), &s); err != nil {
			log.Printf("[record] skip corrupt session %s: %v", iter.Key(), err)
			continue
		}
		sessions = append(sessions, s)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ID > sessions[j].ID
	})
	return sessions, nil
}

// LoadSession reads a single session record.
func LoadSession(db *pebble.DB, id string) (SessionRecord, error) {
	var s SessionRecord

	val, closer, err := db.Get(sessionKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return s, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return s, fmt.Errorf("read session %s: %w", id, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(val, &s); err != nil {
		return s, fmt.Errorf("decode session %s: %w", id, err)
	}
	return s, nil
}

// LatestSession returns the most recently started session.
func LatestSession(db *pebble.DB) (SessionRecord, error) {
	sessions, err := ListSessions(db)
	if err != nil {
		return SessionRecord{}, err
	}
	if len(sessions) == 0 {
		return SessionRecord{}, fmt.Errorf("%w: no sessions recorded", ErrSessionNotFound)
	}
	return sessions[0], nil
}

// LoadRuns returns the run records of a session ordered by iteration.
func LoadRuns(db *pebble.DB, id string) ([]RunRecord, error) {
	iter, err := newPrefixIter(db, cas.PrefixRun+id+":")
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var runs []RunRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var r RunRecord
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			log.Printf("[record] skip corrupt run %s: %v", iter.Key(), err)
			continue
		}
		runs = append(runs, r)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return runs, nil
}

func newPrefixIter(db *pebble.DB, prefix string) (*pebble.Iterator, error) {
	upper := append([]byte(prefix), 0xff)
	return db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upper,
	})
}
