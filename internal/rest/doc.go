// Package rest reads rows from the backend platform's PostgREST API.
//
// All requests carry the project API key both as the apikey header and
// as a bearer token, ask for JSON, and time out after 10 seconds. Errors
// are wrapped with what failed:
//
//   - "execute request: dial tcp: connection refused"
//   - "api /rest/v1/jobs returned status 401: {...}"
//   - "decode response: unexpected end of JSON input"
//
// The client is read-only and does not retry; the query cache decides
// when to fetch again.
package rest
