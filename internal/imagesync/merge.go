package imagesync

import "colorcraft/api/internal/storage"

// mergeListing reconciles an image array with the keys currently present in
// storage. Surviving entries keep their position, new keys are appended in
// listing order, and entries whose object is gone or that do not map into the
// bucket are dropped.
func mergeListing(current []string, listed []string, urls storage.URLMapper) []string {
	present := make(map[string]struct{}, len(listed))
	for _, key := range listed {
		present[key] = struct{}{}
	}

	merged := make([]string, 0, len(listed))
	seen := make(map[string]struct{}, len(listed))
	for _, url := range current {
		key, ok := urls.ObjectKey(url)
		if !ok {
			continue
		}
		if _, ok := present[key]; !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, urls.PublicURL(key))
	}
	for _, key := range listed {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, urls.PublicURL(key))
	}
	return merged
}

// removeKey drops every entry that maps to key and reports whether anything
// changed.
func removeKey(current []string, key string, urls storage.URLMapper) ([]string, bool) {
	kept := make([]string, 0, len(current))
	changed := false
	for _, url := range current {
		if existing, ok := urls.ObjectKey(url); ok && existing == key {
			changed = true
			continue
		}
		kept = append(kept, url)
	}
	return kept, changed
}
