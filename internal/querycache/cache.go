package querycache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/alexjbarnes/chat-sync/internal/events"
	"github.com/alexjbarnes/chat-sync/internal/logging"
	"github.com/alexjbarnes/chat-sync/internal/models"
	"github.com/alexjbarnes/chat-sync/internal/state"
)

// Store persists query entries. *state.Store satisfies it.
type Store interface {
	SaveQuery(q state.QueryRecord) error
	AllQueries() ([]state.QueryRecord, error)
}

// Entry is one cached query and the channels it resolved to, in server
// order. Cursor is the offset of the next page.
type Entry struct {
	Key    string
	Filter Filter
	Sort   Sort
	CIDs   []string
	Cursor int
}

func (e *Entry) clone() Entry {
	out := *e
	out.CIDs = slices.Clone(e.CIDs)
	out.Sort = slices.Clone(e.Sort)

	return out
}

// Cache holds the query entries of one session. A nil store keeps the
// cache in memory only.
type Cache struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*Entry
}

// New creates an empty cache.
func New(store Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = logging.Discard()
	}

	return &Cache{
		store:   store,
		logger:  logger,
		entries: make(map[string]*Entry),
	}
}

// Spec returns the entry for (f, s), creating an empty one if needed.
func (c *Cache) Spec(f Filter, s Sort) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, existed := c.entries[Key(f, s)]

	e := c.ensure(f, s)
	if !existed {
		c.persist(e)
	}

	return e.clone()
}

func (c *Cache) ensure(f Filter, s Sort) *Entry {
	key := Key(f, s)

	e, ok := c.entries[key]
	if !ok {
		e = &Entry{Key: key, Filter: f, Sort: slices.Clone(s)}
		c.entries[key] = e
	}

	return e
}

// SetResult records a server result for (f, s). With appendPage the cids
// extend the current list (duplicates dropped), otherwise they replace it.
func (c *Cache) SetResult(f Filter, s Sort, cids []string, cursor int, appendPage bool) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.ensure(f, s)

	if appendPage {
		for _, cid := range cids {
			if !slices.Contains(e.CIDs, cid) {
				e.CIDs = append(e.CIDs, cid)
			}
		}
	} else {
		e.CIDs = dedupe(cids)
	}

	e.Cursor = cursor
	c.persist(e)

	return e.clone()
}

// Specs returns every entry ordered by key.
func (c *Cache) Specs() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.clone())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out
}

// Lookup returns the entry with key.
func (c *Cache) Lookup(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}

	return e.clone(), true
}

// UpdateQueryChannelCollectionByNewChannel tests ch against every cached
// filter and appends it to each matching entry that lacks it. Returns
// the keys that changed.
func (c *Cache) UpdateQueryChannelCollectionByNewChannel(ch models.Channel) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changed []string

	for key, e := range c.entries {
		if slices.Contains(e.CIDs, ch.CID) || !Match(&ch, e.Filter) {
			continue
		}

		e.CIDs = append(e.CIDs, ch.CID)
		c.persist(e)
		changed = append(changed, key)
	}

	sort.Strings(changed)

	return changed
}

// RefreshChannel re-tests an updated channel: it joins the entries it now
// matches and leaves the ones it no longer matches. Returns the changed
// keys.
func (c *Cache) RefreshChannel(ch models.Channel) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changed []string

	for key, e := range c.entries {
		has := slices.Contains(e.CIDs, ch.CID)
		matches := Match(&ch, e.Filter)

		switch {
		case matches && !has:
			e.CIDs = append(e.CIDs, ch.CID)
		case !matches && has:
			e.CIDs = slices.DeleteFunc(e.CIDs, func(cid string) bool { return cid == ch.CID })
		default:
			continue
		}

		c.persist(e)
		changed = append(changed, key)
	}

	sort.Strings(changed)

	return changed
}

// RemoveChannel drops cid from every entry. Returns the changed keys.
func (c *Cache) RemoveChannel(cid string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changed []string

	for key, e := range c.entries {
		if !slices.Contains(e.CIDs, cid) {
			continue
		}

		e.CIDs = slices.DeleteFunc(e.CIDs, func(x string) bool { return x == cid })
		c.persist(e)
		changed = append(changed, key)
	}

	sort.Strings(changed)

	return changed
}

// HandleEvent keeps the entries current with channel lifecycle events.
// Events that need the full channel from storage (message.new,
// channel.visible) are handled by the caller through
// UpdateQueryChannelCollectionByNewChannel.
func (c *Cache) HandleEvent(ev events.Event) []string {
	switch e := ev.(type) {
	case events.ChannelUpdated:
		ch := e.Channel
		ch.EnsureCID()

		return c.RefreshChannel(ch)
	case events.MemberAdded:
		if e.Channel == nil {
			return nil
		}

		ch := *e.Channel
		ch.EnsureCID()

		return c.UpdateQueryChannelCollectionByNewChannel(ch)
	case events.MemberRemoved:
		if e.EventType() != events.TypeNotificationRemovedFromChannel {
			return nil
		}

		return c.RemoveChannel(events.ResolveCID(ev))
	case events.ChannelDeleted, events.ChannelHidden:
		return c.RemoveChannel(events.ResolveCID(ev))
	}

	return nil
}

// Load replaces the in-memory entries with the persisted ones. Records
// that no longer parse are skipped.
func (c *Cache) Load() error {
	if c.store == nil {
		return nil
	}

	records, err := c.store.AllQueries()
	if err != nil {
		return fmt.Errorf("loading queries: %w", err)
	}

	entries := make(map[string]*Entry, len(records))

	for _, rec := range records {
		f, err := ParseFilter(rec.Filter)
		if err != nil {
			c.logger.Warn("skipping stored query",
				slog.String("key", rec.Key),
				slog.String("error", err.Error()),
			)

			continue
		}

		var s Sort
		if len(rec.Sort) > 0 {
			if err := json.Unmarshal(rec.Sort, &s); err != nil {
				c.logger.Warn("skipping stored query sort",
					slog.String("key", rec.Key),
					slog.String("error", err.Error()),
				)

				continue
			}
		}

		entries[rec.Key] = &Entry{Key: rec.Key, Filter: f, Sort: s, CIDs: rec.CIDs, Cursor: rec.Cursor}
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()

	c.logger.Debug("query cache loaded", slog.Int("entries", len(entries)))

	return nil
}

// Reset forgets every entry. Persisted records are left in place.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()
}

// persist writes e through to the store. Failures are logged: the
// in-memory entry stays authoritative for the session.
func (c *Cache) persist(e *Entry) {
	if c.store == nil {
		return
	}

	filter, err := json.Marshal(e.Filter)
	if err != nil {
		c.logger.Warn("encoding query filter", slog.String("key", e.Key), slog.String("error", err.Error()))
		return
	}

	sortJSON, err := json.Marshal(e.Sort)
	if err != nil {
		c.logger.Warn("encoding query sort", slog.String("key", e.Key), slog.String("error", err.Error()))
		return
	}

	rec := state.QueryRecord{
		Key:    e.Key,
		Filter: filter,
		Sort:   sortJSON,
		CIDs:   slices.Clone(e.CIDs),
		Cursor: e.Cursor,
	}

	if err := c.store.SaveQuery(rec); err != nil {
		c.logger.Warn("saving query", slog.String("key", e.Key), slog.String("error", err.Error()))
	}
}

func dedupe(cids []string) []string {
	out := make([]string, 0, len(cids))
	seen := make(map[string]struct{}, len(cids))

	for _, cid := range cids {
		if _, ok := seen[cid]; ok {
			continue
		}

		seen[cid] = struct{}{}
		out = append(out, cid)
	}

	return out
}
