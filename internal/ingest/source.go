package ingest

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tmc/langchaingo/documentloaders"
)

var (
	// ErrUnsupportedSource is returned for a locator that is neither an
	// http(s) URL nor an existing local file.
	ErrUnsupportedSource = errors.New("unsupported source")
	// ErrNoContent is returned when a source yields no text to index.
	ErrNoContent = errors.New("source produced no content")
)

// SourceKind classifies a source locator.
type SourceKind int

const (
	SourceUnsupported SourceKind = iota
	SourceRemote
	SourceLocalFile
)

func (k SourceKind) String() string {
	switch k {
	case SourceRemote:
		return "remote"
	case SourceLocalFile:
		return "local_file"
	default:
		return "unsupported"
	}
}

// Classify decides how a locator is loaded. The only I/O it performs is a
// stat of the local path.
func Classify(locator string) SourceKind {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return SourceUnsupported
	}

	if u, err := url.Parse(locator); err == nil && u.Host != "" {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return SourceRemote
		}
		return SourceUnsupported
	}

	info, err := os.Stat(locator)
	if err != nil || !info.Mode().IsRegular() {
		return SourceUnsupported
	}
	return SourceLocalFile
}

// LoaderOptions tunes the loaders built by NewLoader.
type LoaderOptions struct {
	// Selectors are the CSS selectors whose text is kept from remote pages.
	Selectors []string
	Timeout   time.Duration
	// Client overrides the HTTP client used for remote sources.
	Client *http.Client
}

// NewLoader returns the document loader for the locator.
func NewLoader(locator string, opts LoaderOptions) (documentloaders.Loader, error) {
	switch Classify(locator) {
	case SourceRemote:
		client := opts.Client
		if client == nil {
			client = &http.Client{Timeout: opts.Timeout}
		}
		return &RemoteLoader{URL: locator, Selectors: opts.Selectors, Client: client}, nil
	case SourceLocalFile:
		return &FileLoader{Path: locator}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, locator)
	}
}
