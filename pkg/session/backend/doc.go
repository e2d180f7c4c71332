// Package backend builds a session.Store from configuration, so that a
// service can switch storage with SESSION_BACKEND alone.
//
//	var cfg backend.Config
//	config.MustLoad(&cfg)
//	b, err := backend.Open(ctx, cfg, log)
//	if err != nil { ... }
//	defer b.Close()
//	manager, err := session.NewBuilder[Data](b.Store).Build()
//
// Open owns every connection it creates; Close releases them in reverse
// order.
package backend
