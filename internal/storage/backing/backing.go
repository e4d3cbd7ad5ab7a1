// Package backing implements the optional backing-file persistence
// path named in spec.md §6: "The buffer pool writes page images to a
// backing file... Recovery iterates pages, dispatching
// TupleBox::load_page". It is adapted from the teacher's
// bbolt-backed pkg/storage, but stores raw page images keyed by
// (relation id, page id) instead of JSON documents keyed by entity id.
package backing

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/moo/internal/ids"
)

var bucketPages = []byte("pages")

// Store persists page images to a bbolt file. A nil Store (BackingPath
// unset in config) means pure in-memory operation, per spec.md §6.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the backing file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("backing: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPages)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("backing: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the backing file.
func (s *Store) Close() error {
	return s.db.Close()
}

func pageKey(relation ids.RelationID, page ids.PageID) []byte {
	key := make([]byte, 12)
	binary.BigEndian.PutUint32(key[0:], uint32(relation))
	binary.BigEndian.PutUint64(key[4:], uint64(page))
	return key
}

// WritePage persists one page's raw image.
func (s *Store) WritePage(relation ids.RelationID, page ids.PageID, image []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPages)
		return b.Put(pageKey(relation, page), image)
	})
}

// DeletePage removes a page's persisted image. Nothing in this module
// calls it; TupleBox frees pages without touching the backing store.
func (s *Store) DeletePage(relation ids.RelationID, page ids.PageID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPages)
		return b.Delete(pageKey(relation, page))
	})
}

// PageImage is one persisted page, returned during recovery iteration.
type PageImage struct {
	Relation ids.RelationID
	Page     ids.PageID
	Image    []byte
}

// ForEachPage iterates every persisted page image, in key order (which
// sorts by relation then page id), for TupleBox.LoadPage to replay
// during recovery (spec.md §6).
func (s *Store) ForEachPage(visit func(PageImage) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPages)
		return b.ForEach(func(k, v []byte) error {
			if len(k) != 12 {
				return fmt.Errorf("backing: malformed page key length %d", len(k))
			}
			relation := ids.RelationID(binary.BigEndian.Uint32(k[0:]))
			page := ids.PageID(binary.BigEndian.Uint64(k[4:]))
			image := make([]byte, len(v))
			copy(image, v)
			return visit(PageImage{Relation: relation, Page: page, Image: image})
		})
	})
}
