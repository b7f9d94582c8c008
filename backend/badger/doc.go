// Package badger stores persistent cache records in an embedded BadgerDB
// database.
//
// Each record is one key, prefix + record name, written in its own
// transaction so readers never observe a partial record. Badger holds an
// exclusive lock on its directory: one process at a time may open a
// location. Use backend/redis or backend/s3 to share records between
// processes.
//
//	b, err := badger.New(badger.Config{Dir: "/var/cache/memo"})
//	if err != nil {
//		return err
//	}
//	ctrl, err := cache.New(cfg, cache.WithBackend(b))
package badger
