package eventlog

import (
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/skycoin/skymesh/pkg/util/pathutil"
)

var boltDBBucket = []byte("events")

type boltDBStore struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) a BoltDB backed Store at path.
func NewBoltDB(path string) (Store, error) {
	if _, err := pathutil.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory of %s", path)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltDBBucket); err != nil {
			return errors.Wrap(err, "failed to create bucket")
		}
		return nil
	})
	if err != nil {
		db.Close() // nolint
		return nil, err
	}

	return &boltDBStore{db: db}, nil
}

// key orders entries by time, then by insertion.
func key(t time.Time, seq uint64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[:8], uint64(t.UnixNano()))
	binary.BigEndian.PutUint64(k[8:], seq)
	return k
}

func (s *boltDBStore) Append(e Entry) error {
	v, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "failed to encode entry")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltDBBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(key(e.Time, seq), v)
	})
}

func (s *boltDBStore) Since(t time.Time) ([]Entry, error) {
	out := make([]Entry, 0)

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(boltDBBucket).Cursor()

		var k, v []byte
		if t.IsZero() {
			k, v = c.First()
		} else {
			k, v = c.Seek(key(t.Add(time.Nanosecond), 0))
		}
		for ; k != nil; k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return errors.Wrapf(err, "corrupt entry %x", k)
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *boltDBStore) Close() error {
	return s.db.Close()
}
