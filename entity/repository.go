package entity

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/kbukum/rowstream/cursor"
	"github.com/kbukum/rowstream/database"
	"github.com/kbukum/rowstream/logger"
	"github.com/kbukum/rowstream/stream"
)

// Session names used in logs, metrics and spans.
const (
	SessionSQL  = "entities.sql"
	SessionGorm = "entities.gorm"
)

const selectEntities = "SELECT id, name, description FROM entities ORDER BY id"

// seedBatchSize is the number of rows per INSERT when seeding.
const seedBatchSize = 500

// Repository reads and provisions the entities table.
type Repository struct {
	db         *database.DB
	log        *logger.Logger
	streamOpts []stream.Option
	cursorOpts []cursor.Option
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithStreamOptions applies opts to every stream the repository creates,
// typically a bulkhead, metrics and tracing.
func WithStreamOptions(opts ...stream.Option) RepositoryOption {
	return func(r *Repository) { r.streamOpts = append(r.streamOpts, opts...) }
}

// WithCursorOptions applies opts to every cursor the repository opens.
func WithCursorOptions(opts ...cursor.Option) RepositoryOption {
	return func(r *Repository) { r.cursorOpts = append(r.cursorOpts, opts...) }
}

// NewRepository creates a repository on db.
func NewRepository(db *database.DB, log *logger.Logger, opts ...RepositoryOption) *Repository {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	r := &Repository{db: db, log: log.WithComponent("entity")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func scanEntity(s cursor.Scanner) (Entity, error) {
	var e Entity
	err := s.Scan(&e.ID, &e.Name, &e.Description)
	return e, err
}

func orderedEntities(session *gorm.DB) *gorm.DB {
	return session.Model(&Entity{}).Select("id", "name", "description").Order("id")
}

// StreamSQL returns a lazy stream over all entities in id order, read
// through a prepared statement on a dedicated connection. Nothing is
// opened until the stream is pulled or opened.
func (r *Repository) StreamSQL(ctx context.Context) (*stream.Stream[Entity], error) {
	source := cursor.SQLSource(r.db.SQL(), scanEntity, selectEntities, nil, r.cursorOpts...)
	return r.execute(ctx, SessionSQL, source)
}

// StreamGorm is StreamSQL read through a GORM session.
func (r *Repository) StreamGorm(ctx context.Context) (*stream.Stream[Entity], error) {
	source := cursor.GormSource[Entity](r.db.Gorm(), orderedEntities, r.cursorOpts...)
	return r.execute(ctx, SessionGorm, source)
}

func (r *Repository) execute(ctx context.Context, name string, source cursor.Source[Entity]) (*stream.Stream[Entity], error) {
	opts := append([]stream.Option{stream.WithName(name)}, r.streamOpts...)
	s, err := stream.NewProducer[Entity](opts...).Execute(source)
	if err != nil {
		return nil, err
	}
	r.log.WithContext(ctx).Debug("Entity stream created", logger.Fields(logger.FieldSession, name))
	return s, nil
}

// Seed replaces the table contents with n fixture rows.
func (r *Repository) Seed(ctx context.Context, n int64) error {
	if n < 0 {
		return fmt.Errorf("seed: negative row count %d", n)
	}
	err := r.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Entity{}).Error; err != nil {
			return fmt.Errorf("clear entities: %w", err)
		}
		batch := make([]Entity, 0, seedBatchSize)
		for i := range n {
			batch = append(batch, Fixture(i))
			if len(batch) == seedBatchSize || i == n-1 {
				if err := tx.Create(&batch).Error; err != nil {
					return fmt.Errorf("insert entities: %w", err)
				}
				batch = batch[:0]
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.log.WithContext(ctx).Info("Entities seeded", logger.Fields(logger.FieldRows, n))
	return nil
}

// Count returns the number of entities.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Entity{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count entities: %w", err)
	}
	return n, nil
}
