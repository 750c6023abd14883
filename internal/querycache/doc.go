// Package querycache is an in-memory cache of query results keyed by
// query key arrays such as ["jobs"] or ["myJobs", "42"]. Invalidation
// marks entries stale by key prefix; a single worker refetches them.
package querycache
