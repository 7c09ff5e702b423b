package downloader

import (
	"errors"

	"github.com/JakeFAU/comic-cacher/internal/comic"
)

var (
	// ErrNotYetPublished means the site has no strip for the requested date yet.
	ErrNotYetPublished = errors.New("comic not yet published")
	// ErrParse means the page did not match the selectors the strategy expects.
	ErrParse = errors.New("unexpected page structure")
)

// Classify maps a strategy error onto a failure kind. Anything that is not a
// known sentinel counts as a network failure.
func Classify(err error) comic.FailureKind {
	switch {
	case err == nil:
		return comic.FailureNone
	case errors.Is(err, ErrNotYetPublished):
		return comic.FailureNotYetPublished
	case errors.Is(err, ErrParse):
		return comic.FailureParsing
	default:
		return comic.FailureNetwork
	}
}
