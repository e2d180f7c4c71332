// Package redisstore implements session.IndexedStore on Redis.
//
// Every session is a hash at <prefix>s:<id> with the fields data, index,
// created, touched and expires (unix milliseconds). The hash expires
// together with the session. An index key maps to a set at <prefix>i:<key>
// holding session ids; its lifetime is extended to cover its longest lived
// member.
//
// Writes that touch a record and an index set run as WATCH/MULTI/EXEC
// transactions, so either both change or neither does. Lost races are
// retried a bounded number of times. Set members whose record has expired
// are dropped lazily by FindByIndex.
//
// All driver failures are reported wrapped in session.ErrTransient.
//
//	client, err := redis.Connect(ctx, cfg)
//	store := redisstore.New(client, redisstore.WithPrefix("app:session:"))
package redisstore
