// Package sonarr implements media.Service for Sonarr.
package sonarr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/samber/mo"

	"github.com/nous-labs/arrbot/internal/media"
	"github.com/nous-labs/arrbot/internal/media/arr"
)

// PosterSource supplies series artwork by TVDb id.
type PosterSource interface {
	SeriesPoster(ctx context.Context, tvdbID int) (string, error)
}

// Service talks to a Sonarr instance.
type Service struct {
	client  *arr.Client
	posters PosterSource
}

var _ media.Service = (*Service)(nil)

// New creates a Sonarr service. posters may be nil.
func New(cfg arr.Config, posters PosterSource) *Service {
	return &Service{client: arr.New(cfg), posters: posters}
}

// Type returns media.Sonarr.
func (s *Service) Type() media.ServiceType { return media.Sonarr }

type series struct {
	ID         int             `json:"id"`
	TvdbID     int             `json:"tvdbId"`
	Title      string          `json:"title"`
	Year       int             `json:"year"`
	Overview   string          `json:"overview"`
	Status     string          `json:"status"`
	Monitored  bool            `json:"monitored"`
	Network    string          `json:"network"`
	Images     []arr.Image     `json:"images"`
	Ratings    json.RawMessage `json:"ratings"`
	Statistics *struct {
		SeasonCount      int   `json:"seasonCount"`
		EpisodeCount     int   `json:"episodeCount"`
		EpisodeFileCount int   `json:"episodeFileCount"`
		SizeOnDisk       int64 `json:"sizeOnDisk"`
	} `json:"statistics"`
	SeasonCount int `json:"seasonCount"`
}

func (s *Service) toItem(sr series) media.CatalogItem {
	item := media.CatalogItem{
		Service:     media.Sonarr,
		ExternalID:  sr.TvdbID,
		InternalID:  sr.ID,
		Title:       sr.Title,
		Year:        sr.Year,
		Overview:    sr.Overview,
		PosterURL:   s.client.PosterURL(sr.Images),
		Added:       sr.ID > 0,
		Status:      sr.Status,
		Monitored:   sr.Monitored,
		Network:     sr.Network,
		SeasonCount: sr.SeasonCount,
		Ratings:     arr.Ratings(sr.Ratings, "tvdb"),
	}
	if st := sr.Statistics; st != nil {
		item.SeasonCount = st.SeasonCount
		item.EpisodeCount = st.EpisodeCount
		item.EpisodeFileCount = st.EpisodeFileCount
		item.SizeOnDisk = st.SizeOnDisk
	}
	return item
}

// Search runs a series lookup.
func (s *Service) Search(ctx context.Context, term string) ([]media.CatalogItem, error) {
	var results []series
	if err := s.client.Get(ctx, "/series/lookup", url.Values{"term": {term}}, &results); err != nil {
		return nil, fmt.Errorf("sonarr search: %w", err)
	}
	items := make([]media.CatalogItem, 0, len(results))
	for _, r := range results {
		items = append(items, s.toItem(r))
	}
	return items, nil
}

// GetByID looks a series up by TVDb id. Added series are refreshed from
// /series/{id} so statistics are included.
func (s *Service) GetByID(ctx context.Context, tvdbID int) (mo.Option[media.CatalogItem], error) {
	var results []series
	err := s.client.Get(ctx, "/series/lookup", url.Values{"term": {"tvdb:" + strconv.Itoa(tvdbID)}}, &results)
	if errors.Is(err, arr.ErrNotFound) {
		return mo.None[media.CatalogItem](), nil
	}
	if err != nil {
		return mo.None[media.CatalogItem](), fmt.Errorf("sonarr lookup %d: %w", tvdbID, err)
	}

	var found *series
	for i := range results {
		if results[i].TvdbID == tvdbID {
			found = &results[i]
			break
		}
	}
	if found == nil {
		return mo.None[media.CatalogItem](), nil
	}

	if found.ID > 0 {
		var full series
		if err := s.client.Get(ctx, "/series/"+strconv.Itoa(found.ID), nil, &full); err != nil {
			return mo.None[media.CatalogItem](), fmt.Errorf("sonarr series %d: %w", found.ID, err)
		}
		found = &full
	}

	item := s.toItem(*found)
	if s.posters != nil {
		poster, err := s.posters.SeriesPoster(ctx, tvdbID)
		if err != nil {
			slog.Warn("tvdb poster lookup failed", "tvdb_id", tvdbID, "error", err)
		} else if poster != "" {
			item.PosterURL = poster
		}
	}
	return mo.Some(item), nil
}

// IsAdded reports whether the series exists in Sonarr.
func (s *Service) IsAdded(ctx context.Context, tvdbID int) (bool, error) {
	item, err := s.GetByID(ctx, tvdbID)
	if err != nil {
		return false, err
	}
	return item.IsPresent() && item.MustGet().Added, nil
}

// Ping checks the system status endpoint.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx); err != nil {
		return fmt.Errorf("sonarr: %w", err)
	}
	return nil
}
