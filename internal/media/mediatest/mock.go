// Package mediatest provides a testify mock of media.Service.
package mediatest

import (
	"context"

	"github.com/samber/mo"
	"github.com/stretchr/testify/mock"

	"github.com/nous-labs/arrbot/internal/media"
)

// Service is a mock media.Service. Set Kind to choose what Type returns.
type Service struct {
	mock.Mock
	Kind media.ServiceType
}

var _ media.Service = (*Service)(nil)

// NewService returns a mock for the given service type.
func NewService(kind media.ServiceType) *Service {
	return &Service{Kind: kind}
}

func (m *Service) Type() media.ServiceType { return m.Kind }

func (m *Service) Search(ctx context.Context, term string) ([]media.CatalogItem, error) {
	args := m.Called(ctx, term)
	items, _ := args.Get(0).([]media.CatalogItem)
	return items, args.Error(1)
}

func (m *Service) GetByID(ctx context.Context, externalID int) (mo.Option[media.CatalogItem], error) {
	args := m.Called(ctx, externalID)
	opt, _ := args.Get(0).(mo.Option[media.CatalogItem])
	return opt, args.Error(1)
}

func (m *Service) IsAdded(ctx context.Context, externalID int) (bool, error) {
	args := m.Called(ctx, externalID)
	return args.Bool(0), args.Error(1)
}

func (m *Service) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
