// Package parse fetches rendered page markup from the external wiki rendering
// service.
//
// Parser is the collaborator boundary used when a route is created for a
// title nobody is editing yet. HTTPParser talks to the service over HTTP;
// CachingParser decorates any Parser with a Cache so repeated opens of the
// same page skip the service when the caller allows cached content.
//
// Two caches are provided:
//
//	cache := parse.NewMemoryCache()                 // single process
//	cache := parse.NewRedisCache(redis.NewClient(…)) // shared across servers
//
//	p := parse.NewCachingParser(parse.NewHTTPParser(endpoint), cache, 10*time.Minute)
//	html, err := p.Parse(ctx, true, "Main Page")
package parse
