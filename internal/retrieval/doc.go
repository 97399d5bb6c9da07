// Package retrieval defines the core types shared across the shoe image
// pipeline: queries and cache keys, validation verdicts, pipeline results,
// the error taxonomy, and the interfaces implemented by image sources,
// validators, the normalizer, and the cache.
package retrieval
