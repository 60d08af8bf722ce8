package cache

import (
	"sort"
	"sync"
)

// Index maintains the tag and dependency associations used to resolve bulk
// invalidation. It has its own synchronization and is never touched while a
// backend lock is held.
type Index struct {
	mu      sync.RWMutex
	tags    map[string]map[string]struct{} // tag -> keys
	keyTags map[string]map[string]struct{} // key -> tags, for deregistration
	deps    map[string]map[string]struct{} // key -> dependent keys
}

// NewIndex creates an empty invalidation index.
func NewIndex() *Index {
	return &Index{
		tags:    make(map[string]map[string]struct{}),
		keyTags: make(map[string]map[string]struct{}),
		deps:    make(map[string]map[string]struct{}),
	}
}

// RegisterEntry records a key's tags, replacing any previous registration.
func (idx *Index) RegisterEntry(key string, tags []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.deregisterTagsLocked(key)
	if len(tags) == 0 {
		return
	}
	keyTags := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if _, ok := idx.tags[tag]; !ok {
			idx.tags[tag] = make(map[string]struct{})
		}
		idx.tags[tag][key] = struct{}{}
		keyTags[tag] = struct{}{}
	}
	idx.keyTags[key] = keyTags
}

// DeregisterKey removes a key from every tag set and drops its dependency
// edges in both directions.
func (idx *Index) DeregisterKey(key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.deregisterTagsLocked(key)
	delete(idx.deps, key)
	for source, dependents := range idx.deps {
		delete(dependents, key)
		if len(dependents) == 0 {
			delete(idx.deps, source)
		}
	}
}

func (idx *Index) deregisterTagsLocked(key string) {
	for tag := range idx.keyTags[key] {
		delete(idx.tags[tag], key)
		if len(idx.tags[tag]) == 0 {
			delete(idx.tags, tag)
		}
	}
	delete(idx.keyTags, key)
}

// KeysForTag returns the keys registered under a tag, sorted.
func (idx *Index) KeysForTag(tag string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	members := idx.tags[tag]
	if len(members) == 0 {
		return nil
	}
	keys := make([]string, 0, len(members))
	for key := range members {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// TagsForKey returns the tags a key is registered under, sorted.
func (idx *Index) TagsForKey(key string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	members := idx.keyTags[key]
	if len(members) == 0 {
		return nil
	}
	tags := make([]string, 0, len(members))
	for tag := range members {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// AddDependency records that dependent must be invalidated whenever key is.
// Edges are one level deep; there is no transitive closure.
func (idx *Index) AddDependency(key, dependent string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.deps[key]; !ok {
		idx.deps[key] = make(map[string]struct{})
	}
	idx.deps[key][dependent] = struct{}{}
}

// Dependents returns the keys that declared a dependency on key, sorted.
func (idx *Index) Dependents(key string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	members := idx.deps[key]
	if len(members) == 0 {
		return nil
	}
	keys := make([]string, 0, len(members))
	for k := range members {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clear drops all associations.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.tags = make(map[string]map[string]struct{})
	idx.keyTags = make(map[string]map[string]struct{})
	idx.deps = make(map[string]map[string]struct{})
}
