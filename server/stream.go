package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/rowstream/errors"
	"github.com/kbukum/rowstream/logger"
	"github.com/kbukum/rowstream/pipeline"
)

// Format is the framing of a streamed response.
type Format string

const (
	FormatJSON   Format = "json"
	FormatNDJSON Format = "ndjson"
	FormatSSE    Format = "sse"
)

// Content types per format.
const (
	ContentTypeJSON   = "application/json"
	ContentTypeNDJSON = "application/x-ndjson"
	ContentTypeSSE    = "text/event-stream"
)

// Trailers sent after a streamed body. TrailerStreamError carries the error
// code when the stream failed after the status line was written.
const (
	TrailerStreamError = "X-Stream-Error"
	TrailerStreamRows  = "X-Stream-Rows"
)

// StreamConfig configures streamed responses.
type StreamConfig struct {
	// FlushEvery is the number of rows written between flushes.
	FlushEvery int `yaml:"flush_every" mapstructure:"flush_every"`
	// DefaultFormat applies when neither ?format= nor Accept picks one.
	DefaultFormat string `yaml:"default_format" mapstructure:"default_format"`
}

// ApplyDefaults sets default values for unset fields.
func (c *StreamConfig) ApplyDefaults() {
	if c.FlushEvery <= 0 {
		c.FlushEvery = 100
	}
	if c.DefaultFormat == "" {
		c.DefaultFormat = string(FormatJSON)
	}
}

// Validate checks the configuration.
func (c *StreamConfig) Validate() error {
	if c.FlushEvery <= 0 {
		return fmt.Errorf("flush_every must be > 0")
	}
	if _, err := ParseFormat(c.DefaultFormat); err != nil {
		return fmt.Errorf("default_format: %w", err)
	}
	return nil
}

// ParseFormat parses a ?format= value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatNDJSON, FormatSSE:
		return f, nil
	default:
		return "", apperrors.NotAcceptable(s)
	}
}

// NegotiateFormat picks the framing from the format query value, then from
// the Accept header, then def. An explicit format or an Accept header that
// names no supported type fails with a 406 AppError.
func NegotiateFormat(query, accept string, def Format) (Format, error) {
	if query != "" {
		return ParseFormat(query)
	}
	if strings.TrimSpace(accept) == "" {
		return def, nil
	}
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mediaType {
		case ContentTypeNDJSON, "application/ndjson", "application/jsonl":
			return FormatNDJSON, nil
		case ContentTypeSSE:
			return FormatSSE, nil
		case ContentTypeJSON:
			return FormatJSON, nil
		case "*/*", "application/*":
			return def, nil
		}
	}
	return "", apperrors.NotAcceptable(accept)
}

// Opener is a sequence that can acquire its resources before the first
// pull. Stream opens such sources before writing the status line.
type Opener interface {
	Open(ctx context.Context) error
}

// ErrorMapper turns a stream error into the AppError sent to the client.
// rows is the number of rows already written.
type ErrorMapper func(err error, rows int64) *apperrors.AppError

// StreamOptions configures one streamed response.
type StreamOptions struct {
	Format     Format
	FlushEvery int
	// Limit stops the stream after that many rows and releases the source.
	// Zero means no limit.
	Limit    int
	MapError ErrorMapper
	Log      *logger.Logger
}

// Stream writes the rows of src to c in opts.Format and closes src.
//
// A source implementing Opener is opened first so an acquisition failure
// becomes a regular error response. Once the status line is out, a failure
// ends the body: NDJSON and SSE get a terminal error record, a JSON array is
// left unterminated, and the X-Stream-Error trailer carries the error code.
// A client that goes away cancels the request context, which ends the
// stream before its next fetch.
//
// Stream returns the number of rows written and the error that ended the
// stream, if any.
func Stream[T any](c *gin.Context, src pipeline.Iterator[T], opts StreamOptions) (int64, error) {
	ctx := c.Request.Context()
	if opts.MapError == nil {
		opts.MapError = func(err error, _ int64) *apperrors.AppError { return apperrors.Wrap(err) }
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = 100
	}
	if opts.Log == nil {
		opts.Log = logger.WithComponent("server")
	}
	log := opts.Log.WithContext(ctx)

	if o, ok := src.(Opener); ok {
		if err := o.Open(ctx); err != nil {
			src.Close()
			RespondWithError(c, opts.MapError(err, 0))
			return 0, err
		}
	}

	p := pipeline.From(src)
	if opts.Limit > 0 {
		p = pipeline.Take(p, opts.Limit)
	}
	batches := pipeline.Batch(p, opts.FlushEvery, 0).Iter(ctx)
	defer batches.Close()

	fw := newFrameWriter(opts.Format, c.Writer)
	h := c.Writer.Header()
	h.Set("Content-Type", fw.contentType())
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Trailer", TrailerStreamError+", "+TrailerStreamRows)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	var rows int64
	defer func() { h.Set(TrailerStreamRows, strconv.FormatInt(rows, 10)) }()

	if err := fw.begin(); err != nil {
		return 0, err
	}
	for {
		batch, ok, err := batches.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Debug("Stream ended by client", logger.Fields(logger.FieldRows, rows))
				return rows, err
			}
			appErr := opts.MapError(err, rows)
			h.Set(TrailerStreamError, string(appErr.Code))
			fw.fail(appErr.ToResponse())
			c.Writer.Flush()
			c.Error(err)
			log.Warn("Stream aborted", logger.Fields(
				logger.FieldRows, rows,
				logger.FieldError, err.Error(),
			))
			return rows, err
		}
		if !ok {
			break
		}
		for _, row := range batch {
			if err := fw.row(rows, row); err != nil {
				return rows, err
			}
			rows++
		}
		c.Writer.Flush()
	}

	if err := fw.end(rows); err != nil {
		return rows, err
	}
	c.Writer.Flush()
	return rows, nil
}

// frameWriter frames rows for one format.
type frameWriter interface {
	contentType() string
	begin() error
	row(index int64, v any) error
	end(rows int64) error
	fail(resp apperrors.ErrorResponse)
}

func newFrameWriter(f Format, w io.Writer) frameWriter {
	switch f {
	case FormatNDJSON:
		return &ndjsonWriter{enc: json.NewEncoder(w)}
	case FormatSSE:
		return &sseWriter{w: w}
	default:
		return &jsonArrayWriter{w: w}
	}
}

type jsonArrayWriter struct {
	w io.Writer
}

func (j *jsonArrayWriter) contentType() string { return ContentTypeJSON }

func (j *jsonArrayWriter) begin() error {
	_, err := io.WriteString(j.w, "[")
	return err
}

func (j *jsonArrayWriter) row(index int64, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if index > 0 {
		b = append([]byte{','}, b...)
	}
	_, err = j.w.Write(b)
	return err
}

func (j *jsonArrayWriter) end(int64) error {
	_, err := io.WriteString(j.w, "]")
	return err
}

// fail leaves the array unterminated so the body does not parse as a
// complete result.
func (j *jsonArrayWriter) fail(apperrors.ErrorResponse) {}

type ndjsonWriter struct {
	enc *json.Encoder
}

func (n *ndjsonWriter) contentType() string { return ContentTypeNDJSON }

func (n *ndjsonWriter) begin() error { return nil }

func (n *ndjsonWriter) row(_ int64, v any) error { return n.enc.Encode(v) }

func (n *ndjsonWriter) end(int64) error { return nil }

func (n *ndjsonWriter) fail(resp apperrors.ErrorResponse) { n.enc.Encode(resp) }

// SSE events: "row" per row with the row index as id, then "end" with the
// row count, or "error" with the error body.
type sseWriter struct {
	w io.Writer
}

func (s *sseWriter) contentType() string { return ContentTypeSSE }

func (s *sseWriter) begin() error { return nil }

func (s *sseWriter) row(index int64, v any) error {
	return sse.Encode(s.w, sse.Event{Event: "row", Id: strconv.FormatInt(index, 10), Data: v})
}

func (s *sseWriter) end(rows int64) error {
	return sse.Encode(s.w, sse.Event{Event: "end", Data: map[string]int64{"rows": rows}})
}

func (s *sseWriter) fail(resp apperrors.ErrorResponse) {
	sse.Encode(s.w, sse.Event{Event: "error", Data: resp})
}
