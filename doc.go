// Package querycache implements a keyed asynchronous data cache for views that
// render remote resources. Each (namespace, key) pair owns one entry; any number
// of observers may bind to it and share a single in-flight fetch.
//
// Components:
//   - Cache: process-wide entry map, fetch issuance and observer notification.
//   - Namespace[V]: typed handle supplying a fixed namespace and FetchFunc[V].
//   - Observer[V]: a binding that follows one key at a time (e.g. a view whose
//     route parameter changes) and is notified whenever its entry changes.
//   - Hooks / Logger: cheap callbacks and leveled logging for observability.
//
// Every issuance bumps the entry's token. A completion is applied only when its
// captured token still equals the entry's current token, so the most recently
// issued fetch wins regardless of the order in which fetches resolve:
//
//	tok := entry.token + 1 // issue
//	v, err := fetch(ctx, key)
//	if tok == entry.token { apply(v, err) } // otherwise discard
//
// Superseded fetches are not cancelled; their results are dropped.
package querycache
