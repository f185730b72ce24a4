// Package recall defines the canonical recall data model shared across
// adapters, the dispatcher, the cache, and the news aggregator.
package recall
