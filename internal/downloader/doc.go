// Package downloader holds the registry of per-site download strategies and the
// helpers strategies share for fetching and parsing strip pages.
//
// Strategies report expected failures through the sentinel errors in this
// package; the Registry converts every error or panic into a comic.DownloadResult
// so nothing escapes to the pipeline.
package downloader
