// Package cache defines the cache backend used by the model engine.
//
// # Overview
//
// A Backend stores one entry per (table, field, value) triple. An entry is either
// a record or a tombstone: a present entry holding nil, which records that the
// key is known to be absent from the database. Callers distinguish the two with
// the comma-ok form of a map lookup on the result of Get.
//
// # Keys
//
// Entries live under a namespace prefix, normally the logical database name:
//
//	<prefix>::<table>::<field>::<value>
//
// GetAll returns entries keyed by the part after the prefix, and DelAll removes
// only entries inside the namespace (memcache excepted, see below).
//
// # Backends
//
//   - memory: bounded in-process store backed by sturdyc
//   - redis: go-redis universal client; GetAll and DelAll use SCAN
//   - memcache: gomemcache; keys that are too long for the protocol are hashed,
//     GetAll fails with CACHE_UNSUPPORTED_OPERATION and DelAll flushes the server
//
// Values are encoded with the configured codec, json by default or msgpack.
//
//	backend, err := cache.NewBackend(cache.Config{Backend: "memory", Prefix: "app"})
//	err = backend.Set(ctx, "users", "id", map[string]any{"1": row, "2": nil})
//	hits, err := backend.Get(ctx, "users", "id", []string{"1", "2", "3"})
//	// hits["1"] is the row, hits["2"] is a tombstone, "3" is absent
package cache
