// Package radarr implements media.Service for Radarr.
package radarr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/samber/mo"

	"github.com/nous-labs/arrbot/internal/media"
	"github.com/nous-labs/arrbot/internal/media/arr"
)

// Service talks to a Radarr instance.
type Service struct {
	client *arr.Client
}

var _ media.Service = (*Service)(nil)

// New creates a Radarr service.
func New(cfg arr.Config) *Service {
	return &Service{client: arr.New(cfg)}
}

// Type returns media.Radarr.
func (s *Service) Type() media.ServiceType { return media.Radarr }

type movie struct {
	ID         int             `json:"id"`
	TmdbID     int             `json:"tmdbId"`
	Title      string          `json:"title"`
	Year       int             `json:"year"`
	Overview   string          `json:"overview"`
	Status     string          `json:"status"`
	Monitored  bool            `json:"monitored"`
	Studio     string          `json:"studio"`
	HasFile    bool            `json:"hasFile"`
	SizeOnDisk int64           `json:"sizeOnDisk"`
	Images     []arr.Image     `json:"images"`
	Ratings    json.RawMessage `json:"ratings"`
}

func (s *Service) toItem(m movie) media.CatalogItem {
	return media.CatalogItem{
		Service:    media.Radarr,
		ExternalID: m.TmdbID,
		InternalID: m.ID,
		Title:      m.Title,
		Year:       m.Year,
		Overview:   m.Overview,
		PosterURL:  s.client.PosterURL(m.Images),
		Added:      m.ID > 0,
		Status:     m.Status,
		Monitored:  m.Monitored,
		Network:    m.Studio,
		HasFile:    m.HasFile,
		SizeOnDisk: m.SizeOnDisk,
		Ratings:    arr.Ratings(m.Ratings, "tmdb"),
	}
}

// Search runs a movie lookup.
func (s *Service) Search(ctx context.Context, term string) ([]media.CatalogItem, error) {
	var results []movie
	if err := s.client.Get(ctx, "/movie/lookup", url.Values{"term": {term}}, &results); err != nil {
		return nil, fmt.Errorf("radarr search: %w", err)
	}
	items := make([]media.CatalogItem, 0, len(results))
	for _, r := range results {
		items = append(items, s.toItem(r))
	}
	return items, nil
}

// GetByID looks a movie up by TMDb id.
func (s *Service) GetByID(ctx context.Context, tmdbID int) (mo.Option[media.CatalogItem], error) {
	var results []movie
	err := s.client.Get(ctx, "/movie/lookup", url.Values{"term": {"tmdb:" + strconv.Itoa(tmdbID)}}, &results)
	if errors.Is(err, arr.ErrNotFound) {
		return mo.None[media.CatalogItem](), nil
	}
	if err != nil {
		return mo.None[media.CatalogItem](), fmt.Errorf("radarr lookup %d: %w", tmdbID, err)
	}
	for _, m := range results {
		if m.TmdbID != tmdbID {
			continue
		}
		if m.ID > 0 {
			var full movie
			if err := s.client.Get(ctx, "/movie/"+strconv.Itoa(m.ID), nil, &full); err != nil {
				return mo.None[media.CatalogItem](), fmt.Errorf("radarr movie %d: %w", m.ID, err)
			}
			m = full
		}
		return mo.Some(s.toItem(m)), nil
	}
	return mo.None[media.CatalogItem](), nil
}

// IsAdded reports whether the movie exists in Radarr.
func (s *Service) IsAdded(ctx context.Context, tmdbID int) (bool, error) {
	item, err := s.GetByID(ctx, tmdbID)
	if err != nil {
		return false, err
	}
	return item.IsPresent() && item.MustGet().Added, nil
}

// Ping checks the system status endpoint.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx); err != nil {
		return fmt.Errorf("radarr: %w", err)
	}
	return nil
}
