// Package integration implements the search and info operations on top of a
// media.Service, classifying failures for the router.
package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nous-labs/arrbot/internal/media"
)

// Kind classifies a handler failure.
type Kind int

const (
	EmptyQuery Kind = iota + 1
	NotFound
	ServiceUnavailable
)

func (k Kind) String() string {
	switch k {
	case EmptyQuery:
		return "empty query"
	case NotFound:
		return "not found"
	case ServiceUnavailable:
		return "service unavailable"
	}
	return "unknown"
}

// Error is returned by Handler operations.
type Error struct {
	Kind    Kind
	Service media.ServiceType
	Err     error // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Service, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var he *Error
	return errors.As(err, &he) && he.Kind == k
}

// Handler runs read-only operations against one media service.
type Handler struct {
	svc media.Service
}

// NewHandler wraps svc.
func NewHandler(svc media.Service) *Handler {
	return &Handler{svc: svc}
}

// Search looks up term. With unaddedOnly, items already in the service are
// dropped; the service's ordering is kept.
func (h *Handler) Search(ctx context.Context, term string, unaddedOnly bool) ([]media.CatalogItem, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, &Error{Kind: EmptyQuery, Service: h.svc.Type()}
	}

	items, err := h.svc.Search(ctx, term)
	if err != nil {
		return nil, &Error{Kind: ServiceUnavailable, Service: h.svc.Type(), Err: err}
	}
	if !unaddedOnly {
		return items, nil
	}

	filtered := make([]media.CatalogItem, 0, len(items))
	for _, it := range items {
		if !it.Added {
			filtered = append(filtered, it)
		}
	}
	return filtered, nil
}

// Info fetches one item by external id.
func (h *Handler) Info(ctx context.Context, externalID int) (media.CatalogItem, error) {
	if externalID <= 0 {
		return media.CatalogItem{}, &Error{Kind: NotFound, Service: h.svc.Type()}
	}

	item, err := h.svc.GetByID(ctx, externalID)
	if err != nil {
		return media.CatalogItem{}, &Error{Kind: ServiceUnavailable, Service: h.svc.Type(), Err: err}
	}
	if !item.IsPresent() {
		return media.CatalogItem{}, &Error{Kind: NotFound, Service: h.svc.Type()}
	}
	return item.MustGet(), nil
}
