// Package watch bridges filesystem notifications to engine invalidation.
//
// ARCHITECTURE:
//
//	fsnotify events ──► relativize + ignore ──► debounce window ──► Invalidator
//	fsnotify errors ──────────────────────────────────────────────► InvalidateAll
//
// A Watcher watches every directory under the build root. Events are
// collected until the debounce window passes without a new one, then the
// deduplicated batch of root-relative paths is handed to
// Invalidator.InvalidateFiles. Directories created while watching are added
// to the watch set as they appear.
//
// CRITICAL-1 Missed Events Invalidate Everything:
// When the kernel queue overflows or the watcher reports an error, some
// changes may never arrive as events. The Watcher then calls InvalidateAll
// so no memoized filesystem read can outlive a change it did not see.
package watch
