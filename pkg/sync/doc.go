/*
The sync package implements the tree synchronization algorithm.

One coordinating goroutine walks the source tree, evaluates the
include/exclude filter, and creates destination directories as it descends,
so a directory always exists before any of its children are copied. Leaf
files become copy jobs on a bounded worker pool; sibling jobs run in any
order and their failures are reported independently without stopping the
run.

Whether a copy is needed is decided per file: cheap metadata first (size,
modification time, basename) and a kernel-computed content digest only when
everything cheaper already matches. Every open file is guarded by a
non-blocking advisory lock; a file locked by someone else is skipped with a
warning, never waited on and never overwritten.

Directory timestamps are propagated after the pool has drained, because
copying a child into a directory would bump the directory's own mtime.
*/
package sync
