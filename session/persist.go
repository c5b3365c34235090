package session

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	authBucket = "auth-storage"
	sessionKey = "session"
	tokenKey   = "auth_token"
)

// persistedSession is the on-disk shape. IsAuthenticated is redundant with
// the user/token pair and exists so external readers can check the flag
// without decoding the user; Load re-derives and cross-checks it.
type persistedSession struct {
	Session
	IsAuthenticated bool `json:"is_authenticated"`
}

// BoltPersister stores the session in a bbolt file. The serialized session
// lives under "session" in the auth-storage bucket; the bare token string
// is mirrored under "auth_token" for subscription-free consumers.
type BoltPersister struct {
	db *bolt.DB
}

// OpenBoltPersister opens (creating if needed) the storage file at path.
func OpenBoltPersister(path string) (*BoltPersister, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open auth storage: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(authBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init auth storage: %w", err)
	}
	return &BoltPersister{db: db}, nil
}

// Close releases the underlying file.
func (b *BoltPersister) Close() error {
	return b.db.Close()
}

// Save writes the snapshot and the token mirror in one transaction.
func (b *BoltPersister) Save(s Session) error {
	blob, err := json.Marshal(persistedSession{Session: s, IsAuthenticated: s.Authenticated()})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(authBucket))
		if err := bkt.Put([]byte(sessionKey), blob); err != nil {
			return err
		}
		return bkt.Put([]byte(tokenKey), []byte(s.Token))
	})
}

// Load reads the stored snapshot. ok is false when nothing is stored.
// A blob that fails to decode, or whose stored flag disagrees with the
// user/token pair, is reported as an error so the caller can clear it.
func (b *BoltPersister) Load() (Session, bool, error) {
	var blob []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(authBucket)).Get([]byte(sessionKey)); v != nil {
			blob = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return Session{}, false, err
	}
	if blob == nil {
		return Session{}, false, nil
	}

	var stored persistedSession
	if err := json.Unmarshal(blob, &stored); err != nil {
		return Session{}, false, fmt.Errorf("decode session: %w", err)
	}
	if stored.IsAuthenticated != stored.Authenticated() {
		return Session{}, false, fmt.Errorf("session flag drift: stored %v, derived %v",
			stored.IsAuthenticated, stored.Authenticated())
	}
	return stored.Session, true, nil
}

// Clear removes the session and the token mirror. Idempotent.
func (b *BoltPersister) Clear() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(authBucket))
		if err := bkt.Delete([]byte(sessionKey)); err != nil {
			return err
		}
		return bkt.Delete([]byte(tokenKey))
	})
}

// MirroredToken reads the bare token key the way an external consumer
// would, without touching the session blob.
func (b *BoltPersister) MirroredToken() (string, error) {
	var tok string
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(authBucket)).Get([]byte(tokenKey)); v != nil {
			tok = string(v)
		}
		return nil
	})
	return tok, err
}
