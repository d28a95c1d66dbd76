package entity

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/rowstream/database"
	apperrors "github.com/kbukum/rowstream/errors"
	"github.com/kbukum/rowstream/logger"
	"github.com/kbukum/rowstream/server"
	"github.com/kbukum/rowstream/stream"
	"github.com/kbukum/rowstream/validation"
)

// StreamQuery holds the query parameters of the streaming routes.
type StreamQuery struct {
	Format string `form:"format" validate:"omitempty,oneof=json ndjson sse"`
	// Limit stops the stream after that many rows. 0 streams everything.
	Limit int `form:"limit" validate:"gte=0"`
	// Batch overrides the number of rows written between flushes.
	Batch int `form:"batch" validate:"omitempty,min=1,max=10000"`
}

// Handler serves the entity streaming routes.
type Handler struct {
	repo *Repository
	cfg  server.StreamConfig
	log  *logger.Logger
}

// NewHandler creates the handler.
func NewHandler(repo *Repository, cfg server.StreamConfig, log *logger.Logger) *Handler {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Handler{repo: repo, cfg: cfg, log: log.WithComponent("entity")}
}

// Register mounts the routes. /entities/jdbc and /entities/batis are kept
// as aliases of the sql and gorm routes.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/entities/sql", h.StreamSQL)
	r.GET("/entities/jdbc", h.StreamSQL)
	r.GET("/entities/gorm", h.StreamGorm)
	r.GET("/entities/batis", h.StreamGorm)
}

// StreamSQL streams every entity through the database/sql cursor.
func (h *Handler) StreamSQL(c *gin.Context) { h.serve(c, h.repo.StreamSQL) }

// StreamGorm streams every entity through the GORM cursor.
func (h *Handler) StreamGorm(c *gin.Context) { h.serve(c, h.repo.StreamGorm) }

func (h *Handler) serve(c *gin.Context, open func(context.Context) (*stream.Stream[Entity], error)) {
	var q StreamQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		server.RespondWithError(c, apperrors.InvalidInput("query", err.Error()))
		return
	}
	if err := validation.Validate(q); err != nil {
		server.RespondWithError(c, err)
		return
	}
	format, err := server.NegotiateFormat(q.Format, c.GetHeader("Accept"), server.Format(h.cfg.DefaultFormat))
	if err != nil {
		server.RespondWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	s, err := open(ctx)
	if err != nil {
		server.RespondWithError(c, apperrors.Internal(err))
		return
	}

	flush := h.cfg.FlushEvery
	if q.Batch > 0 {
		flush = q.Batch
	}
	rows, err := server.Stream[Dto](c, dtoStream{s}, server.StreamOptions{
		Format:     format,
		FlushEvery: flush,
		Limit:      q.Limit,
		MapError:   database.FromStream,
		Log:        h.log,
	})
	c.Set(logger.FieldRows, rows)
	if err == nil {
		h.log.WithContext(ctx).Debug("Entities streamed", logger.Fields(
			logger.FieldSession, c.FullPath(),
			logger.FieldRows, rows,
		))
	}
}

// dtoStream projects an entity stream to DTOs. It keeps the stream's Open
// so the cursor is still acquired before the response starts.
type dtoStream struct {
	*stream.Stream[Entity]
}

func (d dtoStream) Next(ctx context.Context) (Dto, bool, error) {
	e, ok, err := d.Stream.Next(ctx)
	if err != nil || !ok {
		return Dto{}, ok, err
	}
	return ToDto(e), true, nil
}
