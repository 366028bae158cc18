package repository

import (
	"context"

	"github.com/smallbiznis/tally/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is the generic table gateway shared by the domain repositories.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	BatchCreate(ctx context.Context, resources []*T) error
	Update(ctx context.Context, resourceID any, fields map[string]any) (int64, error)
	Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error)
}
