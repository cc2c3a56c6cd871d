// Package scraper talks to the local API of a running connector. Scrape reads
// its status document and its Prometheus metrics for the CLI status command;
// Submit hands events to it when the daemon owns the queue.
package scraper
