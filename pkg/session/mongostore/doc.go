// Package mongostore implements session.IndexedStore on MongoDB.
//
// Each session is one document:
//
//	{_id, data, index_key, created_at, touched_at, expires_at}
//
// so record and index key always change together. EnsureIndexes creates a
// TTL index on expires_at, which lets the server remove expired sessions,
// and an index on index_key. The TTL monitor runs about once a minute, so
// reads also filter on expires_at.
package mongostore
