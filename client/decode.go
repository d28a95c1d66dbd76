package client

import (
	"bufio"
	"context"
	"fmt"
	"net/http"

	"github.com/valyala/fastjson"

	"github.com/kbukum/rowstream/entity"
	apperrors "github.com/kbukum/rowstream/errors"
	"github.com/kbukum/rowstream/server"
)

// maxLine is the longest NDJSON line accepted.
const maxLine = 1 << 20

// DecodeFunc builds a row from one parsed NDJSON line. v is only valid
// until the function returns.
type DecodeFunc[T any] func(v *fastjson.Value) (T, error)

// DecodeDto decodes an entity row.
func DecodeDto(v *fastjson.Value) (entity.Dto, error) {
	if v.Type() != fastjson.TypeObject {
		return entity.Dto{}, fmt.Errorf("expected JSON object, got %s", v.Type())
	}
	return entity.Dto{
		ID:          v.GetInt64("id"),
		Name:        string(v.GetStringBytes("name")),
		Description: string(v.GetStringBytes("description")),
	}, nil
}

// lineIterator decodes an NDJSON body line by line. A line holding an
// error record, or an X-Stream-Error trailer, ends the iteration with the
// server's AppError.
type lineIterator[T any] struct {
	resp   *http.Response
	body   *closeOnce
	sc     *bufio.Scanner
	parser fastjson.Parser
	decode DecodeFunc[T]
	line   int64
	err    error
	done   bool
}

func newLineIterator[T any](resp *http.Response, decode DecodeFunc[T]) *lineIterator[T] {
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(nil, maxLine)
	return &lineIterator[T]{
		resp:   resp,
		body:   &closeOnce{body: resp.Body},
		sc:     sc,
		decode: decode,
	}
}

func (it *lineIterator[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if it.err != nil || it.done {
		return zero, false, it.err
	}
	if err := ctx.Err(); err != nil {
		return zero, false, it.fail(err)
	}

	for it.sc.Scan() {
		b := it.sc.Bytes()
		if len(b) == 0 {
			continue
		}
		it.line++
		v, err := it.parser.ParseBytes(b)
		if err != nil {
			return zero, false, it.fail(fmt.Errorf("line %d: %w", it.line, err))
		}
		if ev := v.Get("error"); ev != nil && v.Exists("error", "code") {
			return zero, false, it.fail(decodeError(ev, it.resp.StatusCode))
		}
		row, err := it.decode(v)
		if err != nil {
			return zero, false, it.fail(fmt.Errorf("line %d: %w", it.line, err))
		}
		return row, true, nil
	}

	if err := it.sc.Err(); err != nil {
		if ctx.Err() != nil {
			return zero, false, it.fail(ctx.Err())
		}
		return zero, false, it.fail(apperrors.StreamAborted(it.line, err))
	}
	// Trailers are readable once the body is consumed.
	if code := it.resp.Trailer.Get(server.TrailerStreamError); code != "" {
		return zero, false, it.fail(apperrors.New(apperrors.ErrorCode(code),
			"The stream ended with an error.", it.resp.StatusCode).WithDetail("rows_sent", it.line))
	}
	it.done = true
	it.body.Close()
	return zero, false, nil
}

func (it *lineIterator[T]) fail(err error) error {
	it.err = err
	it.body.Close()
	return err
}

// Close closes the response body. Safe to call more than once.
func (it *lineIterator[T]) Close() error {
	return it.body.Close()
}
