package eventbus

import "sort"

// Table is the two-level subscription index: firstKey → secondKey → set of
// subscribers. It is not safe for concurrent use; Registry adds locking.
//
// Secondary indexes from device, network and device type to first keys keep
// cascade deletes proportional to the rows they remove.
type Table struct {
	rows map[string]*row

	byDevice  map[string]map[string]struct{}
	byNetwork map[int64]map[string]struct{}
	byType    map[int64]map[string]struct{}

	size int
}

type row struct {
	networkID    int64
	deviceTypeID int64
	deviceID     string
	cells        map[string]*cell
}

type cell struct {
	filter Filter
	subs   map[Subscriber]struct{}
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		rows:      make(map[string]*row),
		byDevice:  make(map[string]map[string]struct{}),
		byNetwork: make(map[int64]map[string]struct{}),
		byType:    make(map[int64]map[string]struct{}),
	}
}

// Len returns the number of (filter, subscriber) registrations.
func (t *Table) Len() int {
	return t.size
}

// Register adds s under f. Returns false if it was already present.
func (t *Table) Register(f Filter, s Subscriber) bool {
	fk := f.FirstKey()
	r, ok := t.rows[fk]
	if !ok {
		r = &row{
			networkID:    f.NetworkID,
			deviceTypeID: f.DeviceTypeID,
			deviceID:     f.DeviceID,
			cells:        make(map[string]*cell),
		}
		t.rows[fk] = r
		t.index(fk, r)
	}

	sk := f.SecondKey()
	c, ok := r.cells[sk]
	if !ok {
		c = &cell{filter: f, subs: make(map[Subscriber]struct{})}
		r.cells[sk] = c
	}
	if _, exists := c.subs[s]; exists {
		return false
	}
	c.subs[s] = struct{}{}
	t.size++
	return true
}

// Unregister removes s from every cell. Returns the number of
// registrations removed; zero when s was unknown.
func (t *Table) Unregister(s Subscriber) int {
	removed := 0
	for fk, r := range t.rows {
		for sk, c := range r.cells {
			if _, ok := c.subs[s]; !ok {
				continue
			}
			delete(c.subs, s)
			removed++
			if len(c.subs) == 0 {
				delete(r.cells, sk)
			}
		}
		if len(r.cells) == 0 {
			t.dropRow(fk)
		}
	}
	t.size -= removed
	return removed
}

// UnregisterFilter removes s from the single cell addressed by f.
func (t *Table) UnregisterFilter(f Filter, s Subscriber) bool {
	fk := f.FirstKey()
	r, ok := t.rows[fk]
	if !ok {
		return false
	}
	sk := f.SecondKey()
	c, ok := r.cells[sk]
	if !ok {
		return false
	}
	if _, ok := c.subs[s]; !ok {
		return false
	}
	delete(c.subs, s)
	t.size--
	if len(c.subs) == 0 {
		delete(r.cells, sk)
	}
	if len(r.cells) == 0 {
		t.dropRow(fk)
	}
	return true
}

// RemoveDevice drops every row scoped to deviceID.
func (t *Table) RemoveDevice(deviceID string) int {
	if deviceID == "" {
		return 0
	}
	return t.dropRows(t.byDevice[deviceID])
}

// RemoveNetwork drops every row scoped to networkID, then the rows of
// each listed device.
func (t *Table) RemoveNetwork(networkID int64, devices []string) int {
	removed := 0
	if networkID != 0 {
		removed += t.dropRows(t.byNetwork[networkID])
	}
	for _, d := range devices {
		removed += t.RemoveDevice(d)
	}
	return removed
}

// RemoveDeviceType drops every row scoped to deviceTypeID, then the rows
// of each listed device.
func (t *Table) RemoveDeviceType(deviceTypeID int64, devices []string) int {
	removed := 0
	if deviceTypeID != 0 {
		removed += t.dropRows(t.byType[deviceTypeID])
	}
	for _, d := range devices {
		removed += t.RemoveDevice(d)
	}
	return removed
}

// Lookup returns the union of subscribers in the global row, the
// device-ignored row and the exact row for f, each joined with f's second
// key. The result is a fresh slice sorted by reply topic then id.
func (t *Table) Lookup(f Filter) []Subscriber {
	sk := f.SecondKey()
	firstKeys := [3]string{
		firstKey(0, 0, ""),
		f.DeviceIgnoredFirstKey(),
		f.FirstKey(),
	}

	seen := make(map[Subscriber]struct{})
	var out []Subscriber
	for i, fk := range firstKeys {
		if i > 0 && fk == firstKeys[i-1] {
			continue
		}
		r, ok := t.rows[fk]
		if !ok {
			continue
		}
		c, ok := r.cells[sk]
		if !ok {
			continue
		}
		for s := range c.subs {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sortSubscribers(out)
	return out
}

// Registrations returns every registration accepted by keep, sorted for
// stable output. A nil keep returns all of them.
func (t *Table) Registrations(keep func(Subscriber) bool) []Registration {
	var out []Registration
	for _, r := range t.rows {
		for _, c := range r.cells {
			for s := range c.subs {
				if keep == nil || keep(s) {
					out = append(out, Registration{Filter: c.filter, Subscriber: s})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Subscriber != out[j].Subscriber {
			return lessSubscriber(out[i].Subscriber, out[j].Subscriber)
		}
		return out[i].Filter.String() < out[j].Filter.String()
	})
	return out
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	c := NewTable()
	for _, r := range t.rows {
		for _, cl := range r.cells {
			for s := range cl.subs {
				c.Register(cl.filter, s)
			}
		}
	}
	return c
}

func (t *Table) index(fk string, r *row) {
	if r.deviceID != "" {
		addIndex(t.byDevice, r.deviceID, fk)
	}
	if r.networkID != 0 {
		addIndex(t.byNetwork, r.networkID, fk)
	}
	if r.deviceTypeID != 0 {
		addIndex(t.byType, r.deviceTypeID, fk)
	}
}

// dropRows removes the rows named in keys. The key set is copied first
// because dropRow mutates the index it came from.
func (t *Table) dropRows(keys map[string]struct{}) int {
	if len(keys) == 0 {
		return 0
	}
	fks := make([]string, 0, len(keys))
	for fk := range keys {
		fks = append(fks, fk)
	}

	removed := 0
	for _, fk := range fks {
		r, ok := t.rows[fk]
		if !ok {
			continue
		}
		for _, c := range r.cells {
			removed += len(c.subs)
		}
		t.dropRow(fk)
	}
	t.size -= removed
	return removed
}

// dropRow deletes a row and its index entries without adjusting size.
func (t *Table) dropRow(fk string) {
	r, ok := t.rows[fk]
	if !ok {
		return
	}
	delete(t.rows, fk)
	if r.deviceID != "" {
		removeIndex(t.byDevice, r.deviceID, fk)
	}
	if r.networkID != 0 {
		removeIndex(t.byNetwork, r.networkID, fk)
	}
	if r.deviceTypeID != 0 {
		removeIndex(t.byType, r.deviceTypeID, fk)
	}
}

func addIndex[K comparable](idx map[K]map[string]struct{}, k K, fk string) {
	set, ok := idx[k]
	if !ok {
		set = make(map[string]struct{})
		idx[k] = set
	}
	set[fk] = struct{}{}
}

func removeIndex[K comparable](idx map[K]map[string]struct{}, k K, fk string) {
	set, ok := idx[k]
	if !ok {
		return
	}
	delete(set, fk)
	if len(set) == 0 {
		delete(idx, k)
	}
}

func lessSubscriber(a, b Subscriber) bool {
	if a.ReplyTo != b.ReplyTo {
		return a.ReplyTo < b.ReplyTo
	}
	return a.ID < b.ID
}

func sortSubscribers(subs []Subscriber) {
	sort.Slice(subs, func(i, j int) bool { return lessSubscriber(subs[i], subs[j]) })
}
