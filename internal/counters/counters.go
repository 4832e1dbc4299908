// Package counters implements the Frequency Counters: four disjoint maps
// (image CIDs, video CIDs, record URIs, external URIs) with a geometric
// "alert-needed" predicate so a popular item doesn't flood logs.
package counters

import "sync"

// Category is one of the four disjoint frequency maps. Every operation
// takes the category's single coarse lock.
type Category struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func newCategory() *Category {
	return &Category{counts: make(map[string]uint64)}
}

// Observe records one sighting of key, returning the new count and whether
// this was the first sighting. Counts are strictly positive and
// monotonically non-decreasing.
func (c *Category) Observe(key string) (count uint64, didInsert bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.counts[key]
	if !ok {
		c.counts[key] = 1
		return 1, true
	}
	existing++
	c.counts[key] = existing
	return existing, false
}

// Count returns the current count for key without mutating it.
func (c *Category) Count(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

// Len reports how many distinct keys this category has observed. The maps
// are never pruned — see DESIGN.md for the reasoning.
func (c *Category) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts)
}

// Factors configures the per-category geometric alert milestone: image_factor,
// video_factor, record_factor, link_factor.
type Factors struct {
	Image  int
	Video  int
	Record int
	Link   int
}

// Counters owns the four category maps plus their alert factors.
type Counters struct {
	Images  *Category
	Videos  *Category
	Records *Category
	Links   *Category
	factors Factors
}

// New constructs the four disjoint counter categories.
func New(factors Factors) *Counters {
	return &Counters{
		Images:  newCategory(),
		Videos:  newCategory(),
		Records: newCategory(),
		Links:   newCategory(),
		factors: factors,
	}
}

// ImageSeen records an image CID sighting, reporting whether this count
// crosses a geometric alert milestone.
func (c *Counters) ImageSeen(cid string) (count uint64, alert bool) {
	count, _ = c.Images.Observe(cid)
	return count, AlertNeeded(count, c.factors.Image)
}

// VideoSeen records a video CID sighting.
func (c *Counters) VideoSeen(cid string) (count uint64, alert bool) {
	count, _ = c.Videos.Observe(cid)
	return count, AlertNeeded(count, c.factors.Video)
}

// RecordSeen records a repo-record URI sighting.
func (c *Counters) RecordSeen(uri string) (count uint64, alert bool) {
	count, _ = c.Records.Observe(uri)
	return count, AlertNeeded(count, c.factors.Record)
}

// LinkSeen records an external-URI sighting. The Redirect Follower uses the
// didInsert flag to recognize a "counter-hit" (already-seen URL) within a
// redirect chain.
func (c *Counters) LinkSeen(uri string) (count uint64, alert, didInsert bool) {
	count, didInsert = c.Links.Observe(uri)
	return count, AlertNeeded(count, c.factors.Link), didInsert
}

// AlertNeeded returns true when newCount equals the smallest power of
// factor — factor, factor², factor³, … — reached so far. Alerts therefore
// fire at geometrically increasing milestones.
func AlertNeeded(newCount uint64, factor int) bool {
	if factor < 2 || newCount == 0 {
		return false
	}
	f := uint64(factor)
	milestone := f
	for milestone < newCount {
		milestone *= f
	}
	return milestone == newCount
}
