// Package media defines the catalog model shared by the Sonarr and Radarr
// integrations, the webhook listener and the renderer.
package media

import (
	"context"
	"strings"

	"github.com/samber/mo"
)

// ServiceType identifies a media-management service.
type ServiceType string

const (
	Sonarr ServiceType = "sonarr"
	Radarr ServiceType = "radarr"
)

// ParseServiceType maps a name such as "Radarr" to a ServiceType.
func ParseServiceType(s string) (ServiceType, bool) {
	switch ServiceType(strings.ToLower(s)) {
	case Sonarr:
		return Sonarr, true
	case Radarr:
		return Radarr, true
	}
	return "", false
}

// DisplayName returns the human-readable service name.
func (t ServiceType) DisplayName() string {
	switch t {
	case Sonarr:
		return "Sonarr"
	case Radarr:
		return "Radarr"
	}
	return string(t)
}

// IDLabel names the external id namespace the service is keyed by.
func (t ServiceType) IDLabel() string {
	if t == Sonarr {
		return "TVDb"
	}
	return "TMDb"
}

// Rating is one rating source for a catalog item.
type Rating struct {
	Source string
	Value  float64
	Votes  int
}

// CatalogItem is a series or movie as reported by a media service.
// Items are fetched per request and never cached.
type CatalogItem struct {
	Service    ServiceType
	ExternalID int // TVDb id for series, TMDb id for movies
	InternalID int // the service's own id; 0 when not added
	Title      string
	Year       int // 0 when unknown
	Overview   string
	PosterURL  string
	Added      bool

	// Populated for added items.
	Status           string
	Monitored        bool
	Network          string // network for series, studio for movies
	SeasonCount      int
	EpisodeCount     int
	EpisodeFileCount int
	HasFile          bool
	SizeOnDisk       int64
	Ratings          []Rating
}

// Episode is one episode referenced by a series event.
type Episode struct {
	Season int
	Number int
	Title  string
}

// Event is a normalized webhook notification.
type Event struct {
	Service      ServiceType
	EventType    string
	IsTest       bool
	Item         *CatalogItem // may be nil for test events
	Episodes     []Episode
	ReleaseTitle string
	Quality      string
	IsUpgrade    bool
	Raw          map[string]any
}

// Service is a read-only client for one media service.
type Service interface {
	Type() ServiceType
	// Search returns lookup results in the service's relevance order.
	Search(ctx context.Context, term string) ([]CatalogItem, error)
	// GetByID looks an item up by external id. A missing item is mo.None, not an error.
	GetByID(ctx context.Context, externalID int) (mo.Option[CatalogItem], error)
	IsAdded(ctx context.Context, externalID int) (bool, error)
	Ping(ctx context.Context) error
}
