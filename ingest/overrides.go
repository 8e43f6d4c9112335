package ingest

import (
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"launchd-go/errors"
	"launchd-go/value"
)

// OverrideDB is the persistent `label -> {key -> Value}` mapping merged
// into a job description at load time (§3 "OverrideDB"). It is a single
// file encoded with value.JSONDecoder. It is read under a shared flock, and
// each save writes a temporary file under an exclusive flock and renames it
// into place; no lock is held across a whole load/unload session.
type OverrideDB struct {
	mu   sync.Mutex
	path string
	data map[string]value.Value
}

// OpenOverrideDB loads path if it exists, or starts with an empty map if it
// doesn't (a first run has no overrides yet).
func OpenOverrideDB(path string) (*OverrideDB, error) {
	db := &OverrideDB{path: path, data: make(map[string]value.Value)}
	if err := db.load(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *OverrideDB) load() error {
	f, err := os.Open(db.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.WrapWithDetail(err, errors.ErrResource, "override-db", db.path)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return errors.WrapWithDetail(err, errors.ErrResource, "override-db", db.path)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	raw, err := os.ReadFile(db.path)
	if err != nil {
		return errors.WrapWithDetail(err, errors.ErrResource, "override-db", db.path)
	}
	if len(raw) == 0 {
		return nil
	}

	v, err := (value.JSONDecoder{}).Decode(raw)
	if err != nil {
		return errors.WrapWithDetail(err, errors.ErrInvalid, "override-db", db.path)
	}
	if v.Kind() != value.KindDict {
		return nil
	}
	v.Each(func(label string, entry value.Value) bool {
		db.data[label] = entry
		return true
	})
	return nil
}

// Get returns the override dict for label, if any.
func (db *OverrideDB) Get(label string) (value.Value, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	v, ok := db.data[label]
	return v, ok
}

// Set replaces the override dict for label and rewrites the file on disk.
func (db *OverrideDB) Set(label string, overrides value.Value) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[label] = overrides
	return db.saveLocked()
}

// SetDisabled is the edit-on-disk (`-w`) helper: it flips the `Disabled`
// key in label's override entry, creating the entry if absent (§4.F step
// 3 "flip Disabled ... in the override DB").
func (db *OverrideDB) SetDisabled(label string, disabled bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	entry, ok := db.data[label]
	if !ok || entry.Kind() != value.KindDict {
		entry = value.NewDict()
	}
	db.data[label] = entry.Set("Disabled", value.NewBool(disabled))
	return db.saveLocked()
}

// saveLocked rewrites the override database atomically (write to a temp
// file, then rename), only ever called with db.mu held.
func (db *OverrideDB) saveLocked() error {
	out := value.NewDict()
	for label, entry := range db.data {
		out = out.Set(label, entry)
	}
	raw, err := (value.JSONDecoder{}).Encode(out)
	if err != nil {
		return errors.WrapWithDetail(err, errors.ErrInternal, "override-db", db.path)
	}

	dir := filepath.Dir(db.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.WrapWithDetail(err, errors.ErrResource, "override-db", db.path)
	}

	tmp, err := os.CreateTemp(dir, ".overridedb-*")
	if err != nil {
		return errors.WrapWithDetail(err, errors.ErrResource, "override-db", db.path)
	}
	defer os.Remove(tmp.Name())

	if err := unix.Flock(int(tmp.Fd()), unix.LOCK_EX); err != nil {
		tmp.Close()
		return errors.WrapWithDetail(err, errors.ErrResource, "override-db", db.path)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return errors.WrapWithDetail(err, errors.ErrResource, "override-db", db.path)
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapWithDetail(err, errors.ErrResource, "override-db", db.path)
	}
	if err := os.Rename(tmp.Name(), db.path); err != nil {
		return errors.WrapWithDetail(err, errors.ErrResource, "override-db", db.path)
	}
	return nil
}

// applyOverrides merges db's entry for desc's Label on top of desc, with
// override keys winning (§4.F step 2).
func applyOverrides(db *OverrideDB, desc value.Value) value.Value {
	if db == nil {
		return desc
	}
	label, ok := desc.GetString("Label")
	if !ok {
		return desc
	}
	overrides, ok := db.Get(label)
	if !ok || overrides.Kind() != value.KindDict {
		return desc
	}
	result := desc
	overrides.Each(func(k string, v value.Value) bool {
		result = result.Set(k, v)
		return true
	})
	return result
}
