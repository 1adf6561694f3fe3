// Package replay caches the complete output of finished streams so the same
// request can be replayed without running its producer again.
//
// A stream is materialized in full before it is cached: GetOrCreate drains
// the factory's producer into an ordered buffer and every hit returns a
// fresh Sequence over that buffer. Entries expire after their TTL; expired
// entries are dropped on lookup and by Sweep.
//
// A Persister makes entries survive restarts. KVPersister stores snapshots
// in a kv.Store (Badger expires them natively); FilePersister writes them
// through a storage.FileStore on local disk or S3. Snapshots are msgpack
// frames compressed with zstd.
package replay
