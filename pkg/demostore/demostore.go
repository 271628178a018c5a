package demostore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	bolt "go.etcd.io/bbolt"

	"github.com/micahchoo/troparcel/pkg/store"
	"github.com/micahchoo/troparcel/pkg/types"
)

var (
	bucketItems          = []byte("items")
	bucketNoteIndex      = []byte("note_index")
	bucketSelectionIndex = []byte("selection_index")
	bucketTxIndex        = []byte("transcription_index")
	bucketCounters       = []byte("counters")
)

// Store is a bbolt-backed store.Adapter, useful for local testing and
// as the reference host for the troparceld CLI's demo mode.
type Store struct {
	db *bolt.DB

	mu        sync.Mutex
	suppressN int32

	subMu       sync.Mutex
	subscribers map[int]func()
	nextSubID   int
}

// Open creates or opens a demo store rooted at dataDir.
func Open(dataDir string) (*Store, error) {
	db, err := bolt.Open(filepath.Join(dataDir, "troparcel-demo.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("demostore: open: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketItems, bucketNoteIndex, bucketSelectionIndex, bucketTxIndex, bucketCounters} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("demostore: init buckets: %w", err)
	}
	return &Store{db: db, subscribers: make(map[int]func())}, nil
}

func (s *Store) Close() error { return s.db.Close() }

var _ store.Adapter = (*Store)(nil)

func (s *Store) ListItems(ctx context.Context) ([]*types.Item, error) {
	var items []*types.Item
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketItems).ForEach(func(k, v []byte) error {
			var item types.Item
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			items = append(items, &item)
			return nil
		})
	})
	return items, err
}

func (s *Store) GetItem(ctx context.Context, localID string) (*types.Item, error) {
	var item types.Item
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketItems).Get([]byte(localID))
		if data == nil {
			return store.ErrNotFound
		}
		return json.Unmarshal(data, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) nextID(tx *bolt.Tx, counter string) int {
	b := tx.Bucket(bucketCounters)
	raw := b.Get([]byte(counter))
	n := 0
	if raw != nil {
		n, _ = strconv.Atoi(string(raw))
	}
	n++
	b.Put([]byte(counter), []byte(strconv.Itoa(n)))
	return n
}

func (s *Store) putItem(tx *bolt.Tx, item *types.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketItems).Put([]byte(strconv.Itoa(item.ID)), data)
}

func (s *Store) getItemByPhoto(tx *bolt.Tx, photoID int) (*types.Item, error) {
	var found *types.Item
	err := tx.Bucket(bucketItems).ForEach(func(k, v []byte) error {
		if found != nil {
			return nil
		}
		var item types.Item
		if err := json.Unmarshal(v, &item); err != nil {
			return err
		}
		for _, p := range item.Photos {
			if p.ID == photoID {
				found = &item
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

// UpsertNote finds the owning item through selectionID when photoID is 0
// and selectionID is not, and through photoID otherwise. Every note is
// kept in the owning item's Notes list, whatever its parent; PhotoID and
// SelectionID on the stored note record that parent.
func (s *Store) UpsertNote(ctx context.Context, localID string, photoID, selectionID int, html, lang string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var noteID int
	err := s.db.Update(func(tx *bolt.Tx) error {
		var item *types.Item
		var err error
		if photoID == 0 && selectionID != 0 {
			raw := tx.Bucket(bucketSelectionIndex).Get([]byte(strconv.Itoa(selectionID)))
			if raw == nil {
				return store.ErrNotFound
			}
			data := tx.Bucket(bucketItems).Get(raw)
			if data == nil {
				return store.ErrNotFound
			}
			item = &types.Item{}
			if err := json.Unmarshal(data, item); err != nil {
				return err
			}
		} else if item, err = s.getItemByPhoto(tx, photoID); err != nil {
			return err
		}
		if localID != "" {
			noteID, _ = strconv.Atoi(localID)
		} else {
			noteID = s.nextID(tx, "note")
		}

		updated := false
		for i := range item.Notes {
			if item.Notes[i].ID == noteID {
				item.Notes[i].HTML = html
				item.Notes[i].Language = lang
				updated = true
				break
			}
		}
		if !updated {
			item.Notes = append(item.Notes, types.Note{ID: noteID, PhotoID: photoID, SelectionID: selectionID, HTML: html, Language: lang})
		}
		if err := s.putItem(tx, item); err != nil {
			return err
		}
		return tx.Bucket(bucketNoteIndex).Put([]byte(strconv.Itoa(noteID)), []byte(strconv.Itoa(item.ID)))
	})
	s.notifyChanged()
	return noteID, err
}

func (s *Store) DeleteNote(ctx context.Context, noteID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		itemIDRaw := tx.Bucket(bucketNoteIndex).Get([]byte(strconv.Itoa(noteID)))
		if itemIDRaw == nil {
			return store.ErrNotFound
		}
		itemID, _ := strconv.Atoi(string(itemIDRaw))
		data := tx.Bucket(bucketItems).Get([]byte(strconv.Itoa(itemID)))
		if data == nil {
			return store.ErrNotFound
		}
		var item types.Item
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}
		for i, n := range item.Notes {
			if n.ID == noteID {
				item.Notes = append(item.Notes[:i], item.Notes[i+1:]...)
				break
			}
		}
		if err := s.putItem(tx, &item); err != nil {
			return err
		}
		return tx.Bucket(bucketNoteIndex).Delete([]byte(strconv.Itoa(noteID)))
	})
	s.notifyChanged()
	return err
}

func (s *Store) UpsertSelection(ctx context.Context, localID string, photoID int, x, y, w, h, angle float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var selID int
	err := s.db.Update(func(tx *bolt.Tx) error {
		item, err := s.getItemByPhoto(tx, photoID)
		if err != nil {
			return err
		}
		if localID != "" {
			selID, _ = strconv.Atoi(localID)
		} else {
			selID = s.nextID(tx, "selection")
		}

		updated := false
		for i := range item.Photos {
			if item.Photos[i].ID != photoID {
				continue
			}
			for j := range item.Photos[i].Selections {
				if item.Photos[i].Selections[j].ID == selID {
					item.Photos[i].Selections[j] = types.Selection{ID: selID, PhotoID: photoID, X: x, Y: y, W: w, H: h, Angle: angle}
					updated = true
					break
				}
			}
			if !updated {
				item.Photos[i].Selections = append(item.Photos[i].Selections, types.Selection{ID: selID, PhotoID: photoID, X: x, Y: y, W: w, H: h, Angle: angle})
			}
		}
		if err := s.putItem(tx, item); err != nil {
			return err
		}
		return tx.Bucket(bucketSelectionIndex).Put([]byte(strconv.Itoa(selID)), []byte(strconv.Itoa(item.ID)))
	})
	s.notifyChanged()
	return selID, err
}

func (s *Store) DeleteSelection(ctx context.Context, selectionID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		itemIDRaw := tx.Bucket(bucketSelectionIndex).Get([]byte(strconv.Itoa(selectionID)))
		if itemIDRaw == nil {
			return store.ErrNotFound
		}
		itemID, _ := strconv.Atoi(string(itemIDRaw))
		data := tx.Bucket(bucketItems).Get([]byte(strconv.Itoa(itemID)))
		if data == nil {
			return store.ErrNotFound
		}
		var item types.Item
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}
		for pi := range item.Photos {
			for si, sel := range item.Photos[pi].Selections {
				if sel.ID == selectionID {
					item.Photos[pi].Selections = append(item.Photos[pi].Selections[:si], item.Photos[pi].Selections[si+1:]...)
					break
				}
			}
		}
		if err := s.putItem(tx, &item); err != nil {
			return err
		}
		return tx.Bucket(bucketSelectionIndex).Delete([]byte(strconv.Itoa(selectionID)))
	})
	s.notifyChanged()
	return err
}

func (s *Store) UpsertTranscription(ctx context.Context, localID string, photoID, selectionID int, text, data string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var txID int
	err := s.db.Update(func(tx *bolt.Tx) error {
		item, err := s.getItemByPhoto(tx, photoID)
		if err != nil {
			return err
		}
		if localID != "" {
			txID, _ = strconv.Atoi(localID)
		} else {
			txID = s.nextID(tx, "transcription")
		}

		for pi := range item.Photos {
			if item.Photos[pi].ID != photoID {
				continue
			}
			updated := false
			for i := range item.Photos[pi].Transcriptions {
				if item.Photos[pi].Transcriptions[i].ID == txID {
					item.Photos[pi].Transcriptions[i].Text = text
					item.Photos[pi].Transcriptions[i].Data = data
					updated = true
					break
				}
			}
			if !updated {
				item.Photos[pi].Transcriptions = append(item.Photos[pi].Transcriptions, types.Transcription{ID: txID, PhotoID: photoID, SelectionID: selectionID, Text: text, Data: data})
			}
		}
		if err := s.putItem(tx, item); err != nil {
			return err
		}
		return tx.Bucket(bucketTxIndex).Put([]byte(strconv.Itoa(txID)), []byte(strconv.Itoa(item.ID)))
	})
	s.notifyChanged()
	return txID, err
}

func (s *Store) SetMetadata(ctx context.Context, itemID, photoID int, property, text, valueType, lang string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketItems).Get([]byte(strconv.Itoa(itemID)))
		if data == nil {
			return store.ErrNotFound
		}
		var item types.Item
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}
		value := types.MetadataValue{Text: text, Type: valueType, Lang: lang}
		if photoID == 0 {
			if item.Metadata == nil {
				item.Metadata = map[string]types.MetadataValue{}
			}
			item.Metadata[property] = value
		} else {
			for i := range item.Photos {
				if item.Photos[i].ID == photoID {
					if item.Photos[i].Metadata == nil {
						item.Photos[i].Metadata = map[string]types.MetadataValue{}
					}
					item.Photos[i].Metadata[property] = value
				}
			}
		}
		return s.putItem(tx, &item)
	})
	s.notifyChanged()
	return err
}

func (s *Store) SetTag(ctx context.Context, itemID int, name, color string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketItems).Get([]byte(strconv.Itoa(itemID)))
		if data == nil {
			return store.ErrNotFound
		}
		var item types.Item
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}
		filtered := item.Tags[:0]
		for _, t := range item.Tags {
			if t.Name != name {
				filtered = append(filtered, t)
			}
		}
		item.Tags = filtered
		if active {
			item.Tags = append(item.Tags, types.Tag{ID: s.nextID(tx, "tag"), Name: name, Color: color})
		}
		return s.putItem(tx, &item)
	})
	s.notifyChanged()
	return err
}

func (s *Store) SetListMembership(ctx context.Context, itemID int, listName string, member bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketItems).Get([]byte(strconv.Itoa(itemID)))
		if data == nil {
			return store.ErrNotFound
		}
		var item types.Item
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}
		filtered := item.Lists[:0]
		for _, l := range item.Lists {
			if l.Name != listName {
				filtered = append(filtered, l)
			}
		}
		item.Lists = filtered
		if member {
			item.Lists = append(item.Lists, types.ListRecord{ID: s.nextID(tx, "list"), Name: listName})
		}
		return s.putItem(tx, &item)
	})
	s.notifyChanged()
	return err
}

// SuppressChanges tracks a reentrant suppression counter. While it is
// above zero, notifyChanged does not fire Subscribe callbacks, so writes
// made inside the apply path's bracket are not reported as local changes.
func (s *Store) SuppressChanges() func() {
	atomic.AddInt32(&s.suppressN, 1)
	return func() { atomic.AddInt32(&s.suppressN, -1) }
}

// Suppressed reports whether a suppression bracket is currently active.
func (s *Store) Suppressed() bool {
	return atomic.LoadInt32(&s.suppressN) > 0
}

// Subscribe registers callback to fire after every write this store
// performs while not suppressed. Real hosts would wire this to their
// own change-tracking (a file watcher, a database trigger); this
// reference store just fires it directly from the same call that made
// the change, since it has no separate change-detection layer to model.
func (s *Store) Subscribe(callback func()) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = callback
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

// notifyChanged fires every subscriber unless a suppression bracket is
// active. Called after every Adapter mutating method above; CreateItem
// does not call it.
func (s *Store) notifyChanged() {
	if s.Suppressed() {
		return
	}
	s.subMu.Lock()
	callbacks := make([]func(), 0, len(s.subscribers))
	for _, cb := range s.subscribers {
		callbacks = append(callbacks, cb)
	}
	s.subMu.Unlock()
	for _, cb := range callbacks {
		cb()
	}
}

// CreateItem seeds the store with item, assigning an id if it does not
// already have one. Exposed for tests and the demo CLI's seed command.
func (s *Store) CreateItem(ctx context.Context, item *types.Item) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if item.ID == 0 {
			item.ID = s.nextID(tx, "item")
		}
		return s.putItem(tx, item)
	})
}
