// Package filecache is the process-wide file cache and read-range ledger.
//
// It answers two questions for the edit engine: "what are the current bytes
// of this file" without redundant disk reads, and "has the caller read enough
// of this file to safely overwrite it".
//
// The cache is a service passed by handle, not a hidden singleton, so tests
// can inject a clean instance.
package filecache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/deskhand/deskhand/pkg/logger"
)

const (
	defaultMaxEntries = 100
	defaultMaxBody    = 10 * 1024 * 1024

	// ledgerLockTries bounds how long a ledger update may contend for the
	// write lock before degrading to "not recorded".
	ledgerLockTries = 40
	ledgerLockPause = 5 * time.Millisecond
)

// Range is an inclusive 1-based line interval.
type Range struct {
	Start int
	End   int
}

func (r Range) String() string { return fmt.Sprintf("%d-%d", r.Start, r.End) }

// Stats tracks per-file activity.
type Stats struct {
	ReadCount  int
	EditCount  int
	WriteCount int

	FirstAccessed time.Time
	LastAccessed  time.Time

	// ImportanceScore weighs edits over writes over reads, decayed by
	// recency down to 20% of the base value.
	ImportanceScore float64
}

func (s *Stats) touch(now time.Time) {
	if s.FirstAccessed.IsZero() {
		s.FirstAccessed = now
	}
	s.LastAccessed = now
	s.recalculate(now)
}

func (s *Stats) recalculate(now time.Time) {
	base := float64(s.ReadCount)*0.2 + float64(s.EditCount)*2.0 + float64(s.WriteCount)*1.5
	if !s.LastAccessed.IsZero() {
		age := now.Sub(s.LastAccessed).Seconds()
		recency := 1.0 / (1.0 + age/86400.0)
		if recency < 0.2 {
			recency = 0.2
		}
		s.ImportanceScore = base * recency
		return
	}
	s.ImportanceScore = base
}

type entry struct {
	path         string
	hash         string
	size         int64
	modTime      time.Time
	lastAccessed time.Time

	// body is retained only for files at or under the cache body limit.
	body []byte

	ranges     []Range
	totalLines int
	fullyRead  bool

	stats Stats
}

func (e *entry) addRange(start, end int) {
	if start < 1 {
		start = 1
	}
	if end > e.totalLines {
		end = e.totalLines
	}
	if e.totalLines == 0 || end < start {
		return
	}
	e.ranges = append(e.ranges, Range{Start: start, End: end})
	e.ranges = mergeRanges(e.ranges)
	e.fullyRead = len(e.ranges) == 1 && e.ranges[0].Start <= 1 && e.ranges[0].End >= e.totalLines
}

func (e *entry) linesCovered() int {
	covered := 0
	for _, r := range e.ranges {
		covered += r.End - r.Start + 1
	}
	return covered
}

func (e *entry) readPercentage() float64 {
	if e.fullyRead || e.totalLines == 0 {
		return 100.0
	}
	return float64(e.linesCovered()) / float64(e.totalLines) * 100.0
}

func (e *entry) unreadRanges() []Range {
	if e.fullyRead || e.totalLines == 0 {
		return nil
	}
	var unread []Range
	next := 1
	for _, r := range e.ranges {
		if r.Start > next {
			unread = append(unread, Range{Start: next, End: r.Start - 1})
		}
		if r.End+1 > next {
			next = r.End + 1
		}
	}
	if next <= e.totalLines {
		unread = append(unread, Range{Start: next, End: e.totalLines})
	}
	return unread
}

// mergeRanges sorts and merges overlapping or adjacent ranges.
func mergeRanges(ranges []Range) []Range {
	if len(ranges) < 2 {
		return ranges
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	merged := ranges[:1]
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End+1 {
			if r.End > last.End {
				last.End = r.End
			}
		} else {
			merged = append(merged, r)
		}
	}
	return merged
}

// Cache is a thread-safe file cache keyed by canonical path.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	maxEntries int
	maxBody    int64
}

// New creates a cache. Zero arguments select the defaults (100 entries,
// 10 MiB body limit).
func New(maxEntries int, maxBody int64) *Cache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Cache{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
		maxBody:    maxBody,
	}
}

// HashBytes returns the hex SHA-256 of content.
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// CountLines counts logical lines: newlines, plus one for a trailing
// fragment without a final newline.
func CountLines(content []byte) int {
	n := 0
	for _, b := range content {
		if b == '\n' {
			n++
		}
	}
	if len(content) > 0 && content[len(content)-1] != '\n' {
		n++
	}
	return n
}

// Read returns the file's bytes, serving from the cache when the mtime is
// unchanged and refreshing the entry otherwise. Cache bookkeeping degrades to
// a no-op on lock contention; the read itself never blocks on it.
func (c *Cache) Read(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}

	c.mu.RLock()
	if e, ok := c.entries[path]; ok && e.body != nil && e.modTime.Equal(info.ModTime()) {
		body := e.body
		c.mu.RUnlock()
		c.touch(path)
		return body, nil
	}
	c.mu.RUnlock()

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	c.refresh(path, content, info)
	return content, nil
}

// touch bumps access time and read stats without blocking.
func (c *Cache) touch(path string) {
	if !c.mu.TryLock() {
		return
	}
	defer c.mu.Unlock()
	if e, ok := c.entries[path]; ok {
		now := time.Now()
		e.lastAccessed = now
		e.stats.ReadCount++
		e.stats.touch(now)
	}
}

// refresh installs or updates the entry for path from freshly read content.
// Skipped silently when the write lock is contended.
func (c *Cache) refresh(path string, content []byte, info os.FileInfo) {
	if !c.mu.TryLock() {
		logger.DebugCF("filecache", "skipping cache refresh under contention", map[string]any{"path": path})
		return
	}
	defer c.mu.Unlock()

	totalLines := CountLines(content)
	now := time.Now()

	e, ok := c.entries[path]
	if !ok {
		e = &entry{path: path}
		c.entries[path] = e
		e.stats.touch(now)
	}
	e.hash = HashBytes(content)
	e.size = info.Size()
	e.modTime = info.ModTime()
	e.lastAccessed = now
	if info.Size() <= c.maxBody {
		e.body = content
	} else {
		e.body = nil
	}
	// A change in line count invalidates the ledger; same-length content
	// keeps the recorded ranges.
	if e.totalLines != totalLines {
		e.ranges = nil
		e.fullyRead = false
	}
	e.totalLines = totalLines
	e.stats.ReadCount++
	e.stats.touch(now)

	if len(c.entries) > c.maxEntries {
		c.evictLocked()
	}
}

// evictLocked drops the oldest-accessed half of the cache.
func (c *Cache) evictLocked() {
	type aged struct {
		path string
		at   time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for p, e := range c.entries {
		all = append(all, aged{p, e.lastAccessed})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	toRemove := len(all) - c.maxEntries/2
	for _, a := range all[:toRemove] {
		delete(c.entries, a.path)
	}
	logger.DebugCF("filecache", "evicted entries", map[string]any{"removed": toRemove})
}

// RecordReadRange merges [start, end] into the file's read ranges, loading
// the file into the cache first if needed. Failure to record is not an error.
func (c *Cache) RecordReadRange(path string, start, end int) {
	if !c.tryRecordRange(path, start, end) {
		if _, err := c.Read(path); err != nil {
			return
		}
		c.tryRecordRange(path, start, end)
	}
}

func (c *Cache) tryRecordRange(path string, start, end int) bool {
	for i := 0; i < ledgerLockTries; i++ {
		if c.mu.TryLock() {
			e, ok := c.entries[path]
			if ok {
				e.addRange(start, end)
				now := time.Now()
				e.lastAccessed = now
				e.stats.touch(now)
			}
			c.mu.Unlock()
			return ok
		}
		time.Sleep(ledgerLockPause)
	}
	logger.DebugCF("filecache", "ledger update dropped under contention", map[string]any{"path": path})
	return true // degrade silently rather than re-reading
}

// UnreadRanges returns the complement of the recorded ranges within
// [1, total_lines]. A file that exists but has no entry is entirely unread.
func (c *Cache) UnreadRanges(path string) []Range {
	c.mu.RLock()
	if e, ok := c.entries[path]; ok {
		unread := e.unreadRanges()
		c.mu.RUnlock()
		return unread
	}
	c.mu.RUnlock()

	content, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	if total := CountLines(content); total > 0 {
		return []Range{{Start: 1, End: total}}
	}
	return nil
}

// ReadPercentage returns the covered share of the file's lines, in percent.
func (c *Cache) ReadPercentage(path string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[path]; ok {
		return e.readPercentage()
	}
	return 0
}

// HasChanged reports whether the file's mtime differs from the cached one.
// Unknown files count as changed.
func (c *Cache) HasChanged(path string) bool {
	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if !ok {
		return true
	}
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return !info.ModTime().Equal(e.modTime)
}

// Hash returns the cached content hash for path.
func (c *Cache) Hash(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[path]; ok && e.hash != "" {
		return e.hash, true
	}
	return "", false
}

// TotalLines returns the cached line count for path.
func (c *Cache) TotalLines(path string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[path]; ok {
		return e.totalLines, true
	}
	return 0, false
}

// CanOverwrite reports whether path may be safely overwritten: it does not
// exist, or at least 99% of its lines were read and it is unchanged on disk.
func (c *Cache) CanOverwrite(path string) bool {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return true
	}
	return c.ReadPercentage(path) >= 99.0 && !c.HasChanged(path)
}

// OverwriteDenial explains why CanOverwrite is false, for error messages.
func (c *Cache) OverwriteDenial(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ""
	}
	if c.ReadPercentage(path) < 99.0 {
		unread := c.UnreadRanges(path)
		parts := make([]string, 0, len(unread))
		for _, r := range unread {
			parts = append(parts, r.String())
		}
		return fmt.Sprintf("read the file first; unread line ranges: %s", strings.Join(parts, ", "))
	}
	if c.HasChanged(path) {
		return "the file has changed since it was last read"
	}
	return ""
}

// RecordEdit bumps edit stats for path.
func (c *Cache) RecordEdit(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[path]; ok {
		e.stats.EditCount++
		e.stats.touch(time.Now())
	}
}

// RecordWrite refreshes the entry after a successful write with the new
// content, marking the whole file as read.
func (c *Cache) RecordWrite(path string, content []byte) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	e, ok := c.entries[path]
	if !ok {
		e = &entry{path: path}
		c.entries[path] = e
	}
	e.hash = HashBytes(content)
	e.size = info.Size()
	e.modTime = info.ModTime()
	e.lastAccessed = now
	if info.Size() <= c.maxBody {
		e.body = content
	} else {
		e.body = nil
	}
	e.totalLines = CountLines(content)
	if e.totalLines > 0 {
		e.ranges = []Range{{Start: 1, End: e.totalLines}}
	} else {
		e.ranges = nil
	}
	e.fullyRead = true
	e.stats.WriteCount++
	e.stats.touch(now)

	if len(c.entries) > c.maxEntries {
		c.evictLocked()
	}
}

// FileStats returns a copy of the activity stats for path.
func (c *Cache) FileStats(path string) (Stats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[path]; ok {
		return e.stats, true
	}
	return Stats{}, false
}

// ActiveFile pairs a path with its stats for activity reporting.
type ActiveFile struct {
	Path  string
	Stats Stats
}

// MostActive returns up to limit files ordered by importance score.
func (c *Cache) MostActive(limit int) []ActiveFile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	all := make([]ActiveFile, 0, len(c.entries))
	for p, e := range c.entries {
		all = append(all, ActiveFile{Path: p, Stats: e.stats})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Stats.ImportanceScore > all[j].Stats.ImportanceScore
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
