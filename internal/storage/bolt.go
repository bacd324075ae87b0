package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	documentsBucket = []byte("documents")
	auditBucket     = []byte("audit_logs")
)

type boltBackend struct {
	db *bolt.DB
}

func openBolt(dbPath string) (*boltBackend, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, err
	}
	return &boltBackend{db: db}, nil
}

func (b *boltBackend) Close() error {
	return b.db.Close()
}

func (b *boltBackend) Migrate() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{documentsBucket, auditBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (b *boltBackend) GetDocument(_ context.Context, guildID, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		docs := tx.Bucket(documentsBucket)
		if docs == nil {
			return nil
		}
		bucket := docs.Bucket([]byte(key))
		if bucket == nil {
			return nil
		}
		if value := bucket.Get([]byte(guildID)); value != nil {
			// Values are only valid inside the transaction.
			out = append([]byte(nil), value...)
		}
		return nil
	})
	return out, err
}

func (b *boltBackend) PutDocument(_ context.Context, guildID, key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		docs, err := tx.CreateBucketIfNotExists(documentsBucket)
		if err != nil {
			return err
		}
		bucket, err := docs.CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(guildID), value)
	})
}

func (b *boltBackend) ListDocuments(_ context.Context, key string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := b.db.View(func(tx *bolt.Tx) error {
		docs := tx.Bucket(documentsBucket)
		if docs == nil {
			return nil
		}
		bucket := docs.Bucket([]byte(key))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			out[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	return out, err
}

func (b *boltBackend) AddAuditLog(_ context.Context, log AuditLog) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(auditBucket)
		if err != nil {
			return err
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		log.ID = int64(seq)
		raw, err := json.Marshal(log)
		if err != nil {
			return err
		}
		return bucket.Put(itob(seq), raw)
	})
}

func (b *boltBackend) ListAuditLogs(_ context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	var logs []AuditLog
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(auditBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, v []byte) error {
			var log AuditLog
			if err := json.Unmarshal(v, &log); err != nil {
				return err
			}
			if log.GuildID == guildID && log.CreatedAt.Unix() >= since.Unix() {
				logs = append(logs, log)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].CreatedAt.Equal(logs[j].CreatedAt) {
			return logs[i].ID > logs[j].ID
		}
		return logs[i].CreatedAt.After(logs[j].CreatedAt)
	})
	return logs, nil
}

func (b *boltBackend) CleanupAuditLogs(_ context.Context, cutoff time.Time) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(auditBucket)
		if bucket == nil {
			return nil
		}
		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var log AuditLog
			if err := json.Unmarshal(v, &log); err != nil {
				return err
			}
			if log.CreatedAt.Unix() < cutoff.Unix() {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func itob(v uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, v)
	return out
}
