// Package pipeline composes image sources, the downloader, both validators,
// the normalizer, and the cache into the resolve policy: cache fast path,
// sources in priority order, a bounded-retry state machine per candidate,
// and the semantic bypass rule.
package pipeline
