package session

import (
	"encoding/json"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/rephi/rephi-go/rbac"
)

func newPersisterTest(t *testing.T) *BoltPersister {
	t.Helper()
	p, err := OpenBoltPersister(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open persister: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestSaveLoadRoundtrip(t *testing.T) {
	p := newPersisterTest(t)

	in := Session{User: testUser(), Token: "tok-abc"}
	if err := p.Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, ok, err := p.Load()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if out.Token != in.Token || out.User == nil || out.User.Email != in.User.Email {
		t.Fatalf("roundtrip mismatch: %+v", out)
	}
	if !rbac.IsAdmin(out.User) {
		t.Fatal("roles lost in roundtrip")
	}

	tok, err := p.MirroredToken()
	if err != nil || tok != "tok-abc" {
		t.Fatalf("token mirror = %q, err=%v", tok, err)
	}
}

func TestLoadEmpty(t *testing.T) {
	p := newPersisterTest(t)
	_, ok, err := p.Load()
	if err != nil || ok {
		t.Fatalf("empty load: ok=%v err=%v", ok, err)
	}
}

func TestClearRemovesTokenMirror(t *testing.T) {
	p := newPersisterTest(t)
	if err := p.Save(Session{User: testUser(), Token: "tok"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := p.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := p.Clear(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if _, ok, _ := p.Load(); ok {
		t.Fatal("session survived clear")
	}
	if tok, _ := p.MirroredToken(); tok != "" {
		t.Fatalf("token mirror survived clear: %q", tok)
	}
}

func corruptSessionBlob(t *testing.T, path string, blob []byte) {
	t.Helper()
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	err = db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(authBucket)).Put([]byte(sessionKey), blob)
	})
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}
}

func TestCorruptRehydrationClearsStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.db")
	p, err := OpenBoltPersister(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	p.Close()

	corruptSessionBlob(t, path, []byte("{not json"))

	p, err = OpenBoltPersister(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p.Close()

	st := NewStore(p, nil)
	if st.Authenticated() {
		t.Fatal("corrupt snapshot must rehydrate to logged-out")
	}
	if _, ok, err := p.Load(); ok || err != nil {
		t.Fatalf("corrupt blob not cleared: ok=%v err=%v", ok, err)
	}
}

func TestFlagDriftTreatedAsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.db")
	p, err := OpenBoltPersister(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	p.Close()

	// Authenticated flag set without a token: drift between the mirror
	// writers.
	blob, _ := json.Marshal(map[string]any{
		"user":             testUser(),
		"token":            "",
		"is_authenticated": true,
	})
	corruptSessionBlob(t, path, blob)

	p, err = OpenBoltPersister(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p.Close()

	if _, _, err := p.Load(); err == nil {
		t.Fatal("expected drift error")
	}
	st := NewStore(p, nil)
	if st.Authenticated() {
		t.Fatal("drifted snapshot must not authenticate")
	}
}
