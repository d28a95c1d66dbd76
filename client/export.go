package client

import (
	"bufio"
	"context"
	"io"
	"strconv"

	"github.com/valyala/fastjson"

	"github.com/kbukum/rowstream/entity"
	"github.com/kbukum/rowstream/logger"
	"github.com/kbukum/rowstream/pipeline"
)

// ExportStats summarizes an export.
type ExportStats struct {
	Rows    int64
	Windows int64
}

// Export groups the rows of it into windows of size rows and appends each
// window to w as NDJSON, flushing once per window. It closes it.
func Export(ctx context.Context, it pipeline.Iterator[entity.Dto], w io.Writer, size int, log *logger.Logger) (ExportStats, error) {
	if log == nil {
		log = logger.WithComponent("export")
	}
	var (
		stats ExportStats
		arena fastjson.Arena
		buf   []byte
	)
	bw := bufio.NewWriter(w)

	windows := pipeline.Batch(pipeline.From(it), size, 0)
	err := pipeline.Drain(windows, func(_ context.Context, window []entity.Dto) error {
		for _, d := range window {
			obj := arena.NewObject()
			obj.Set("id", arena.NewNumberString(strconv.FormatInt(d.ID, 10)))
			obj.Set("name", arena.NewString(d.Name))
			obj.Set("description", arena.NewString(d.Description))
			buf = obj.MarshalTo(buf[:0])
			buf = append(buf, '\n')
			if _, err := bw.Write(buf); err != nil {
				return err
			}
		}
		arena.Reset()
		if err := bw.Flush(); err != nil {
			return err
		}
		stats.Rows += int64(len(window))
		stats.Windows++
		log.Debug("Window written", logger.Fields(logger.FieldRows, len(window), "window", stats.Windows))
		return nil
	}).Run(ctx)
	return stats, err
}
