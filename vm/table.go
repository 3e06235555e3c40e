package vm

import "github.com/chazu/loxvm/pkg/dynarray"

// ---------------------------------------------------------------------------
// Table: open-addressing hash map keyed by interned strings
// ---------------------------------------------------------------------------

// TableMaxLoad is the fraction of occupied slots (tombstones included) that
// triggers a grow-and-rehash.
const TableMaxLoad = 0.75

// Entry is one slot of a Table. A nil key with value Nil is empty; a nil
// key with value True is a tombstone.
type Entry struct {
	Key   *String
	Value Value
}

func (e *Entry) isTombstone() bool {
	return e.Key == nil && e.Value == True
}

// Table maps interned strings to values. Keys compare by identity, which
// is only sound because every String is interned.
//
// The zero value is an empty table ready for use.
type Table struct {
	entries []Entry
	count   int // occupied slots, tombstones included
	live    int // genuine entries
	onGrow  dynarray.GrowHook
}

// NewTable creates an empty table. hook, if non-nil, is reported every time
// the slot array is replaced.
func NewTable(hook dynarray.GrowHook) *Table {
	return &Table{onGrow: hook}
}

// Len returns the number of live entries.
func (t *Table) Len() int { return t.live }

// Count returns the number of occupied slots including tombstones.
func (t *Table) Count() int { return t.count }

// Capacity returns the size of the slot array.
func (t *Table) Capacity() int { return len(t.entries) }

// findEntry returns the slot for key: either the slot holding it, or the
// slot where it would be inserted (the first tombstone passed, or the
// terminating empty slot). entries must be non-empty.
func findEntry(entries []Entry, key *String) *Entry {
	mask := uint32(len(entries) - 1)
	index := key.Hash & mask
	var tombstone *Entry
	for {
		entry := &entries[index]
		if entry.Key == nil {
			if !entry.isTombstone() {
				// Empty slot: definitive miss.
				if tombstone != nil {
					return tombstone
				}
				return entry
			}
			if tombstone == nil {
				tombstone = entry
			}
		} else if entry.Key == key {
			return entry
		}
		index = (index + 1) & mask
	}
}

// Get looks up key.
func (t *Table) Get(key *String) (Value, bool) {
	if t.live == 0 {
		return Nil, false
	}
	entry := findEntry(t.entries, key)
	if entry.Key == nil {
		return Nil, false
	}
	return entry.Value, true
}

// Set stores value under key. It returns true if key was not present.
func (t *Table) Set(key *String, value Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*TableMaxLoad {
		t.adjustCapacity(dynarray.GrowCapacity(len(t.entries)))
	}

	entry := findEntry(t.entries, key)
	isNew := entry.Key == nil
	if isNew {
		t.live++
		// Reusing a tombstone does not add an occupied slot.
		if !entry.isTombstone() {
			t.count++
		}
	}
	entry.Key = key
	entry.Value = value
	return isNew
}

// Delete removes key, leaving a tombstone. It returns true if key was present.
func (t *Table) Delete(key *String) bool {
	if t.live == 0 {
		return false
	}
	entry := findEntry(t.entries, key)
	if entry.Key == nil {
		return false
	}
	entry.Key = nil
	entry.Value = True
	t.live--
	return true
}

func (t *Table) adjustCapacity(capacity int) {
	if t.onGrow != nil {
		t.onGrow(len(t.entries), capacity)
	}

	entries := make([]Entry, capacity)
	for i := range entries {
		entries[i].Value = Nil
	}

	// Tombstones are dropped: only genuine entries are rehashed.
	t.count = 0
	for i := range t.entries {
		src := &t.entries[i]
		if src.Key == nil {
			continue
		}
		dst := findEntry(entries, src.Key)
		dst.Key = src.Key
		dst.Value = src.Value
		t.count++
	}
	t.live = t.count
	t.entries = entries
}

// AddAll copies every entry of from into to. Used for class inheritance:
// the copy is a snapshot, later changes to from are not seen by to.
func AddAll(from, to *Table) {
	for i := range from.entries {
		entry := &from.entries[i]
		if entry.Key != nil {
			to.Set(entry.Key, entry.Value)
		}
	}
}

// FindString looks up an interned string by content. It compares hash and
// then bytes, because the caller has no String object to compare by identity.
func (t *Table) FindString(chars string, hash uint32) *String {
	if t.live == 0 {
		return nil
	}
	mask := uint32(len(t.entries) - 1)
	index := hash & mask
	for {
		entry := &t.entries[index]
		if entry.Key == nil {
			if !entry.isTombstone() {
				return nil
			}
		} else if entry.Key.Hash == hash && entry.Key.Chars == chars {
			return entry.Key
		}
		index = (index + 1) & mask
	}
}

// Each calls fn for every live entry in slot order.
func (t *Table) Each(fn func(key *String, value Value)) {
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key != nil {
			fn(entry.Key, entry.Value)
		}
	}
}

// RemoveWhite deletes every entry whose key was not marked by the current
// collection. Only the weak intern table uses this.
func (t *Table) RemoveWhite() int {
	removed := 0
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key != nil && !entry.Key.marked {
			entry.Key = nil
			entry.Value = True
			t.live--
			removed++
		}
	}
	return removed
}

// Reset drops every entry and the slot array.
func (t *Table) Reset() {
	t.entries = nil
	t.count = 0
	t.live = 0
}
