// Package archive keeps raw recognition provider payloads in a Badger
// database. Payloads are evidence for review disputes; superseded ones are
// retained up to a per-subject cap instead of being overwritten.
package archive

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const rawPrefix = "raw:"

// Archive wraps a Badger database instance for raw payload retention.
type Archive struct {
	db     *badger.DB
	logger *slog.Logger

	// keepPerSubject caps retained payloads per subject; oldest are pruned.
	keepPerSubject int
}

// Open opens the archive at the given path.
func Open(path string, keepPerSubject int, logger *slog.Logger) (*Archive, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil            // Disable Badger's internal logging
	opts.SyncWrites = true       // Ensure writes are synced to disk to prevent corruption on crashes
	opts.CompactL0OnClose = true // Compact L0 tables on close for faster startup

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	if keepPerSubject < 1 {
		keepPerSubject = 1
	}

	return &Archive{
		db:             db,
		logger:         logger,
		keepPerSubject: keepPerSubject,
	}, nil
}

// Close gracefully closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// subjectPrefix namespaces a subject's payloads.
// Keys sort lexicographically by write time within the prefix.
func subjectPrefix(subjectID string) []byte {
	return []byte(rawPrefix + subjectID + ":")
}

func payloadKey(subjectID string, at time.Time) []byte {
	return fmt.Appendf(nil, "%s%s:%020d", rawPrefix, subjectID, at.UnixNano())
}

// Put appends a raw payload for a subject and prunes beyond the retention cap.
func (a *Archive) Put(subjectID string, payload []byte) error {
	err := a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(payloadKey(subjectID, time.Now()), payload)
	})
	if err != nil {
		return fmt.Errorf("archive payload: %w", err)
	}

	if err := a.prune(subjectID); err != nil {
		// Retention is best effort; the payload itself is already durable.
		if a.logger != nil {
			a.logger.Warn("archive prune failed", "subject_id", subjectID, "error", err)
		}
	}
	return nil
}

// Latest returns the most recent payload for a subject, nil when none exists.
func (a *Archive) Latest(subjectID string) ([]byte, error) {
	var latest []byte

	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = subjectPrefix(subjectID)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek key past the prefix range.
		seek := append(subjectPrefix(subjectID), 0xff)
		it.Seek(seek)
		if !it.ValidForPrefix(subjectPrefix(subjectID)) {
			return nil
		}

		return it.Item().Value(func(val []byte) error {
			latest = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read latest payload: %w", err)
	}
	return latest, nil
}

// History returns all retained payloads for a subject, oldest first.
func (a *Archive) History(subjectID string) ([][]byte, error) {
	var payloads [][]byte

	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = subjectPrefix(subjectID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(subjectPrefix(subjectID)); it.ValidForPrefix(subjectPrefix(subjectID)); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				payloads = append(payloads, append([]byte(nil), val...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read payload history: %w", err)
	}
	return payloads, nil
}

// prune deletes the oldest payloads beyond the retention cap.
func (a *Archive) prune(subjectID string) error {
	return a.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = subjectPrefix(subjectID)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var keys [][]byte
		for it.Seek(subjectPrefix(subjectID)); it.ValidForPrefix(subjectPrefix(subjectID)); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}

		excess := len(keys) - a.keepPerSubject
		for i := 0; i < excess; i++ {
			if err := txn.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
}
