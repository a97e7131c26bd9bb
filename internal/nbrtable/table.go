package nbrtable

// Table is a fixed-capacity store that associates a link-layer key with a
// value owned by the table. Every Add hands out a freshly allocated value, so
// a pointer to a removed value never aliases the entry that later reuses its
// slot.
//
// Iteration with Head/Next tolerates removal of the element currently being
// visited: Next resumes from the slot that follows it.
//
// Table is not safe for concurrent use.
type Table[K comparable, V any] struct {
	name  string
	slots []slot[K, V]
	keys  map[K]int
	// live values and, per slot, the last value removed from it.
	ptrs    map[*V]int
	tombs   map[*V]int
	onEvict func(*V)
}

type slot[K comparable, V any] struct {
	used  bool
	key   K
	value *V
	tomb  *V
}

// New creates a table with room for capacity entries.
func New[K comparable, V any](name string, capacity int) *Table[K, V] {
	if capacity < 0 {
		capacity = 0
	}

	return &Table[K, V]{
		name:  name,
		slots: make([]slot[K, V], capacity),
		keys:  make(map[K]int, capacity),
		ptrs:  make(map[*V]int, capacity),
		tombs: make(map[*V]int, capacity),
	}
}

func (t *Table[K, V]) Name() string {
	return t.name
}

func (t *Table[K, V]) Cap() int {
	return len(t.slots)
}

// Register installs the callback invoked for every entry reclaimed by Flush.
func (t *Table[K, V]) Register(onEvict func(*V)) {
	t.onEvict = onEvict
}

// Add allocates a zeroed entry for key. It returns nil when the table is
// full or key is already present.
func (t *Table[K, V]) Add(key K) *V {
	if _, ok := t.keys[key]; ok {
		return nil
	}

	for idx := range t.slots {
		s := &t.slots[idx]
		if s.used {
			continue
		}
		v := new(V)
		s.used = true
		s.key = key
		s.value = v
		t.keys[key] = idx
		t.ptrs[v] = idx
		return v
	}
	return nil
}

// Remove frees the slot holding v. Unknown or already removed values are
// ignored. The removed value keeps its contents.
func (t *Table[K, V]) Remove(v *V) {
	idx, ok := t.ptrs[v]
	if !ok {
		return
	}

	s := &t.slots[idx]
	delete(t.ptrs, v)
	delete(t.keys, s.key)
	if s.tomb != nil {
		delete(t.tombs, s.tomb)
	}
	t.tombs[v] = idx

	var zero K
	s.used = false
	s.key = zero
	s.value = nil
	s.tomb = v
}

func (t *Table[K, V]) Get(key K) *V {
	idx, ok := t.keys[key]
	if !ok {
		return nil
	}
	return t.slots[idx].value
}

// Key returns the key v is stored under.
func (t *Table[K, V]) Key(v *V) (K, bool) {
	idx, ok := t.ptrs[v]
	if !ok {
		var zero K
		return zero, false
	}
	return t.slots[idx].key, true
}

// Head returns the first live entry, or nil when the table is empty.
func (t *Table[K, V]) Head() *V {
	return t.scan(0)
}

// Next returns the live entry following v, or nil at the end. v may be the
// last value removed from its slot.
func (t *Table[K, V]) Next(v *V) *V {
	idx, ok := t.ptrs[v]
	if !ok {
		if idx, ok = t.tombs[v]; !ok {
			return nil
		}
	}
	return t.scan(idx + 1)
}

// Flush reclaims every entry, handing each to the eviction callback first.
func (t *Table[K, V]) Flush() {
	for idx := range t.slots {
		s := &t.slots[idx]
		if !s.used {
			continue
		}
		v := s.value
		if t.onEvict != nil {
			t.onEvict(v)
		}
		t.Remove(v)
	}
}

func (t *Table[K, V]) scan(from int) *V {
	for idx := from; idx < len(t.slots); idx++ {
		if t.slots[idx].used {
			return t.slots[idx].value
		}
	}
	return nil
}
