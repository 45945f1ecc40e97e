package core

import (
	"github.com/git-pkgs/upack/client"
	"github.com/git-pkgs/upack/fetch"
)

// Type aliases so feed implementations only need to import core.
type (
	Client       = client.Client
	Option       = client.Option
	URLBuilder   = client.URLBuilder
	FeedURLs     = client.FeedURLs
	HTTPError    = client.HTTPError
	ProgressFunc = fetch.ProgressFunc
)

// Function aliases.
var (
	DefaultClient  = client.DefaultClient
	NewClient      = client.NewClient
	WithTimeout    = client.WithTimeout
	WithMaxRetries = client.WithMaxRetries
	WithHeader     = client.WithHeader
	NewFeedURLs    = client.NewFeedURLs
	AsHTTPError    = client.AsHTTPError
)
