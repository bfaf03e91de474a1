package reannounce

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/bencode"
	bolt "go.etcd.io/bbolt"
)

var scheduleBucket = []byte("schedule")

// Record is the persisted schedule of a single hash.
type Record struct {
	Hash string `bencode:"hash"`
	// Unix seconds.
	NextAnnounce int64 `bencode:"next_announce"`
	// Unix seconds, zero if never announced.
	LastAnnounce int64 `bencode:"last_announce"`
	// Number of times the hash is staged for announce.
	Announces int64 `bencode:"announces"`
}

// Next returns NextAnnounce as time.
func (r Record) Next() time.Time {
	return time.Unix(r.NextAnnounce, 0)
}

// DB stores Records in a Bolt database.
type DB struct {
	db *bolt.DB
}

// OpenDB opens the Bolt database at path, creating it if needed.
func OpenDB(path string) (*DB, error) {
	err := os.MkdirAll(filepath.Dir(path), 0750)
	if err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0640, &bolt.Options{Timeout: time.Second})
	if err == bolt.ErrTimeout {
		return nil, errors.New("schedule database is locked by another process")
	} else if err != nil {
		return nil, err
	}
	d, err := NewDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// NewDB uses an already open Bolt database.
func NewDB(db *bolt.DB) (*DB, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err2 := tx.CreateBucketIfNotExists(scheduleBucket)
		return err2
	})
	if err != nil {
		return nil, err
	}
	return &DB{db: db}, nil
}

// Close the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Put saves records, replacing existing ones with the same hash.
func (d *DB) Put(records ...Record) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(scheduleBucket)
		for _, r := range records {
			val, err := bencode.EncodeBytes(r)
			if err != nil {
				return err
			}
			err = b.Put([]byte(r.Hash), val)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the record of hash. ok is false if there is no such record.
func (d *DB) Get(hash string) (r Record, ok bool, err error) {
	err = d.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(scheduleBucket).Get([]byte(hash))
		if val == nil {
			return nil
		}
		ok = true
		return bencode.DecodeBytes(val, &r)
	})
	return
}

// Delete removes the records of hashes. Missing hashes are ignored.
func (d *DB) Delete(hashes ...string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(scheduleBucket)
		for _, h := range hashes {
			err := b.Delete([]byte(h))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ForEach calls fn for every record in hash order.
func (d *DB) ForEach(fn func(Record) error) error {
	return d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(scheduleBucket).ForEach(func(k, v []byte) error {
			var r Record
			err := bencode.DecodeBytes(v, &r)
			if err != nil {
				return err
			}
			return fn(r)
		})
	})
}
