// Package shm manages the shared memory segments that back tables.
//
// A segment is a file in a tmpfs directory (/dev/shm on Linux) mapped
// MAP_SHARED, so every process that maps the same name sees the same bytes.
// Segments are handed out by a Registry, which the caller owns and must
// Close; nothing is cleaned up implicitly at process exit.
//
// The Guard type is the only code in this repository that reasons about raw
// memory: it performs atomic compare-and-swap on a 4-byte word inside a
// mapping to provide cross-process mutual exclusion.
package shm
