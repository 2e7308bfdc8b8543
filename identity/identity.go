// Package identity keeps a child window's id stable across restarts.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/EelcoLos/iframe-dnd-demo-sub000/relay"
)

var (
	bucketName = []byte("identity")
	windowKey  = []byte("window_id")
)

// ErrEmptyID is returned when saving an empty id.
var ErrEmptyID = errors.New("identity: empty window id")

func open(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open identity store %s: %w", path, err)
	}
	return db, nil
}

// LoadOrCreate returns the id stored at path, creating "<prefix>-<random>"
// the first time.
func LoadOrCreate(path, prefix string) (relay.WindowID, error) {
	db, err := open(path)
	if err != nil {
		return "", err
	}
	defer db.Close()

	var id string
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		if v := b.Get(windowKey); v != nil {
			id = string(v)
			return nil
		}
		id = prefix + "-" + uuid.NewString()[:8]
		return b.Put(windowKey, []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("load window id: %w", err)
	}
	return relay.WindowID(id), nil
}

// Save replaces the stored id.
func Save(path string, id relay.WindowID) error {
	if id == "" {
		return ErrEmptyID
	}
	db, err := open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.Put(windowKey, []byte(id))
	})
}
