package msgbox

import (
	"context"
	"encoding/binary"
	"errors"

	bolt "go.etcd.io/bbolt"
)

// BoltRepository stores Message streams in a bbolt file. Each aggregate gets
// a bucket inside the root bucket, keyed by big-endian version
type BoltRepository struct {
	db         *bolt.DB
	serializer *Serializer
}

var boltRootBucket = []byte("msgbox")

// ErrBoltCorruptKey indicates a stream entry with a malformed version key
var ErrBoltCorruptKey = errors.New("malformed version key")

// OpenBoltRepository opens or creates the bbolt file at cfg.Path
func OpenBoltRepository(
	cfg BoltConfig, s *Serializer,
) (*BoltRepository, error) {
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = DefaultBoltOpenTimeout
	}
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltRootBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltRepository{
		db:         db,
		serializer: s,
	}, nil
}

func (r *BoltRepository) Close() error {
	return r.db.Close()
}

// Persist appends the Messages to their streams in one transaction. Either
// every stream is extended or nothing is written
func (r *BoltRepository) Persist(_ context.Context, msgs ...*Message) error {
	batches, err := groupByAggregate(msgs)
	if err != nil {
		return err
	}

	return r.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(boltRootBucket)
		for _, b := range batches {
			bucket, err := root.CreateBucketIfNotExists(
				[]byte(b.id.String()),
			)
			if err != nil {
				return err
			}
			if err := b.checkContinues(lastVersion(bucket)); err != nil {
				return err
			}
			for i, msg := range b.msgs {
				data, err := r.serializer.Serialize(msg)
				if err != nil {
					return err
				}
				key := versionKey(b.first + int64(i))
				if err := bucket.Put(key, data); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (r *BoltRepository) RetrieveAll(
	ctx context.Context, id AggregateID,
) ([]*Message, error) {
	return r.RetrieveAllAfterVersion(ctx, id, 0)
}

func (r *BoltRepository) RetrieveAllAfterVersion(
	_ context.Context, id AggregateID, version int64,
) ([]*Message, error) {
	msgs := []*Message{}
	err := r.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltRootBucket).Bucket([]byte(id.String()))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.Seek(versionKey(max(version, 0) + 1)); k != nil; k, v = c.Next() {
			if len(k) != 8 {
				return ErrBoltCorruptKey
			}
			msg, err := r.serializer.Unserialize(v)
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func lastVersion(bucket *bolt.Bucket) int64 {
	k, _ := bucket.Cursor().Last()
	if len(k) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(k))
}

func versionKey(v int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(v))
	return key
}
