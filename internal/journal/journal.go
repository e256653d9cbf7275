// Package journal keeps a local append-only record of every transaction the
// toolkit finalized or broadcast.
package journal

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
	"lukechampine.com/blake3"

	"kelvin-core/pkg/logger"
)

var bucketRecords = []byte("records")

var ErrNotFound = errors.New("journal record not found")

type Kind string

const (
	KindSigned    Kind = "signed"
	KindBroadcast Kind = "broadcast"
)

type Record struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	Currency string    `json:"currency"`
	Network  string    `json:"network"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to,omitempty"`
	Amount   string    `json:"amount,omitempty"`
	Fee      string    `json:"fee,omitempty"`
	TxID     string    `json:"txid,omitempty"`
	SignedTx string    `json:"signedTx"`
	At       time.Time `json:"at"`
}

// Recorder is what the driver writes to. A nil Recorder disables the journal.
type Recorder interface {
	Append(r Record) (Record, error)
}

type Journal struct {
	db *bolt.DB
}

func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket %s: %w", bucketRecords, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// recordID = blake3(kind || currency || network || signedTx) 的前 16 字节
func recordID(r Record) string {
	h := blake3.New(32, nil)
	for _, part := range []string{string(r.Kind), r.Currency, r.Network, r.SignedTx} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// key 以时间戳开头，游标顺序即时间顺序
func recordKey(at time.Time, id string) []byte {
	k := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(k, uint64(at.UnixNano()))
	return append(k, id...)
}

// Append stores r, filling ID and At when empty.
func (j *Journal) Append(r Record) (Record, error) {
	if r.At.IsZero() {
		r.At = time.Now().UTC()
	}
	if r.ID == "" {
		r.ID = recordID(r)
	}
	val, err := json.Marshal(r)
	if err != nil {
		return Record{}, err
	}
	err = j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).Put(recordKey(r.At, r.ID), val)
	})
	if err != nil {
		return Record{}, fmt.Errorf("journal append: %w", err)
	}
	logger.Debug("journal append", zap.String("id", r.ID), zap.String("kind", string(r.Kind)), zap.String("currency", r.Currency))
	return r, nil
}

// List returns up to limit records, newest first. limit <= 0 returns all.
func (j *Journal) List(limit int) ([]Record, error) {
	var out []Record
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode record %x: %w", k, err)
			}
			out = append(out, r)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// Get finds the newest record with the given id.
func (j *Journal) Get(id string) (Record, error) {
	var (
		r     Record
		found bool
	)
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if len(k) > 8 && string(k[8:]) == id {
				found = true
				return json.Unmarshal(v, &r)
			}
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{}, ErrNotFound
	}
	return r, nil
}
