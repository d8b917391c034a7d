// Package store defines the persistence contract of the harvester (entries, snapshots,
// normalized entities, links and the failure ledger). Implementations live in
// internal/storage; this package must not import database drivers or concrete clients.
package store
