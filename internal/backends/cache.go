package backends

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/haidra-org/horde-model-reference/internal/legacy"
	"github.com/haidra-org/horde-model-reference/internal/models"
)

// categoryCache is the freshness bookkeeping shared by every backend. It
// holds the v2 documents and a mirror of the legacy documents, each with
// fetch timestamps, last observed file mtimes and a stale set.
type categoryCache struct {
	name   string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	// pathFor and legacyPathFor return the file whose mtime is tracked, or "".
	pathFor       func(models.Category) string
	legacyPathFor func(models.Category) string

	mu      sync.Mutex
	docs    map[models.Category]models.RawDocument
	fetched map[models.Category]time.Time
	mtimes  map[models.Category]time.Time
	stale   map[models.Category]bool

	legacyDocs    map[models.Category]legacy.Document
	legacyStrings map[models.Category]string
	legacyFetched map[models.Category]time.Time
	legacyMtimes  map[models.Category]time.Time
	legacyStale   map[models.Category]bool

	cbMu      sync.Mutex
	callbacks []InvalidationFunc
}

func newCategoryCache(name string, ttl time.Duration, logger *slog.Logger) *categoryCache {
	return &categoryCache{
		name:          name,
		ttl:           ttl,
		now:           time.Now,
		logger:        logger,
		pathFor:       func(models.Category) string { return "" },
		legacyPathFor: func(models.Category) string { return "" },
		docs:          make(map[models.Category]models.RawDocument),
		fetched:       make(map[models.Category]time.Time),
		mtimes:        make(map[models.Category]time.Time),
		stale:         make(map[models.Category]bool),
		legacyDocs:    make(map[models.Category]legacy.Document),
		legacyStrings: make(map[models.Category]string),
		legacyFetched: make(map[models.Category]time.Time),
		legacyMtimes:  make(map[models.Category]time.Time),
		legacyStale:   make(map[models.Category]bool),
	}
}

func modTime(path string) (time.Time, bool) {
	if path == "" {
		return time.Time{}, false
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// valid reports whether the cached document of c can be served. TTL expiry
// and mtime changes mark the category stale, which fires the callbacks once.
func (cc *categoryCache) valid(c models.Category) bool {
	cc.mu.Lock()
	ok, invalidated := cc.validLocked(c)
	cc.mu.Unlock()
	if invalidated {
		cc.logger.Debug("Category cache invalidated", "backend", cc.name, "category", c)
		cc.fire(c)
	}
	return ok
}

func (cc *categoryCache) validLocked(c models.Category) (ok, invalidated bool) {
	if cc.stale[c] {
		return false, false
	}
	if _, present := cc.docs[c]; !present {
		return false, false
	}
	ts, present := cc.fetched[c]
	if !present {
		return false, false
	}
	if cc.ttl > 0 && cc.now().Sub(ts) >= cc.ttl {
		cc.markStaleLocked(c)
		return false, true
	}
	if mt, tracked := modTime(cc.pathFor(c)); tracked {
		if last, seen := cc.mtimes[c]; seen && !mt.Equal(last) {
			cc.markStaleLocked(c)
			return false, true
		}
	}
	return true, false
}

// needsRefresh is false before the first fetch of c.
func (cc *categoryCache) needsRefresh(c models.Category) bool {
	cc.mu.Lock()
	_, fetched := cc.fetched[c]
	stale := cc.stale[c]
	cc.mu.Unlock()
	if !fetched && !stale {
		return false
	}
	return !cc.valid(c)
}

func (cc *categoryCache) get(c models.Category) (models.RawDocument, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	doc, ok := cc.docs[c]
	return doc, ok && doc != nil
}

// store records a fresh document. A nil document leaves the previous entry
// and its freshness untouched.
func (cc *categoryCache) store(c models.Category, doc models.RawDocument) {
	if doc == nil {
		return
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.docs[c] = doc
	cc.fetched[c] = cc.now()
	delete(cc.stale, c)
	if mt, ok := modTime(cc.pathFor(c)); ok {
		cc.mtimes[c] = mt
	}
	cacheEntries.WithLabelValues(cc.name).Set(float64(len(cc.docs)))
}

func (cc *categoryCache) size() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return len(cc.docs)
}

func (cc *categoryCache) markStaleLocked(c models.Category) {
	cc.stale[c] = true
	cc.legacyStale[c] = true
}

// markStale flags both the v2 and the legacy entry of c and runs the
// invalidation callbacks.
func (cc *categoryCache) markStale(c models.Category) {
	cc.mu.Lock()
	cc.markStaleLocked(c)
	cc.mu.Unlock()
	cc.fire(c)
}

func (cc *categoryCache) register(fn InvalidationFunc) {
	cc.cbMu.Lock()
	defer cc.cbMu.Unlock()
	cc.callbacks = append(cc.callbacks, fn)
}

func (cc *categoryCache) fire(c models.Category) {
	invalidations.WithLabelValues(cc.name).Inc()
	cc.cbMu.Lock()
	callbacks := append([]InvalidationFunc(nil), cc.callbacks...)
	cc.cbMu.Unlock()
	for _, fn := range callbacks {
		fn(c)
	}
}

func (cc *categoryCache) legacyValid(c models.Category) bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.legacyStale[c] {
		return false
	}
	if _, ok := cc.legacyStrings[c]; !ok {
		return false
	}
	ts, ok := cc.legacyFetched[c]
	if !ok {
		return false
	}
	if cc.ttl > 0 && cc.now().Sub(ts) >= cc.ttl {
		cc.legacyStale[c] = true
		return false
	}
	if mt, tracked := modTime(cc.legacyPathFor(c)); tracked {
		if last, seen := cc.legacyMtimes[c]; seen && !mt.Equal(last) {
			cc.legacyStale[c] = true
			return false
		}
	}
	return true
}

func (cc *categoryCache) getLegacy(c models.Category) (legacy.Document, string, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	s, ok := cc.legacyStrings[c]
	return cc.legacyDocs[c], s, ok
}

func (cc *categoryCache) storeLegacy(c models.Category, doc legacy.Document, raw string) {
	if doc == nil {
		return
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.legacyDocs[c] = doc
	cc.legacyStrings[c] = raw
	cc.legacyFetched[c] = cc.now()
	delete(cc.legacyStale, c)
	if mt, ok := modTime(cc.legacyPathFor(c)); ok {
		cc.legacyMtimes[c] = mt
	}
}

func (cc *categoryCache) markLegacyStale(c models.Category) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.legacyStale[c] = true
}

// resyncLegacyMtime records the current legacy file mtime of c without
// touching the cached document, after the file was restored in place.
func (cc *categoryCache) resyncLegacyMtime(c models.Category) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if _, ok := cc.legacyStrings[c]; !ok {
		return
	}
	if mt, ok := modTime(cc.legacyPathFor(c)); ok {
		cc.legacyMtimes[c] = mt
	}
}
