// Package export composes a reader and a writer into a streaming pipeline:
// one goroutine pulls hits off the engine, a pool of workers normalizes
// them and a single goroutine hands them to the sink in order of arrival.
package export

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-search-reader/elastic"
	"github.com/pteich/elastic-search-reader/reader"
	"github.com/pteich/elastic-search-reader/writer"
)

const defaultWorkers = 8

// Options tune the pipeline.
type Options struct {
	// Workers sets the number of normalize goroutines, 0 means 8.
	Workers int
	// Progress renders a progress bar sized by a count request up front.
	Progress bool
	Logger   *zap.Logger
}

// Run streams every hit of the reader's query into the writer. The reader's
// cursor is released when the pipeline ends, also on early failure. The
// first error from either side cancels the whole run.
func Run(ctx context.Context, r *reader.Reader, w *writer.Writer, opts Options) error {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var bar *pb.ProgressBar
	if opts.Progress {
		total, err := r.Count(ctx)
		if err != nil {
			logger.Warn("counting documents failed, progress starts at zero", zap.Error(err))
		}
		bar = pb.StartNew(int(total))
	}

	g, ctx := errgroup.WithContext(ctx)

	// one goroutine to pull hits from the engine
	hits := make(chan elastic.Hit)
	g.Go(func() error {
		defer close(hits)
		// release the scroll/PIT context no matter how the run ends
		defer r.Close(context.Background())

		for {
			hit, err := r.Next(ctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}

			select {
			case hits <- hit:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	// worker pool to normalize hits into records
	records := make(chan reader.Record, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()

			for hit := range hits {
				record, err := r.Normalize(hit)
				if err != nil {
					return err
				}

				select {
				case records <- record:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(records)
	}()

	// a single goroutine writes, the sink is not safe for concurrent use
	g.Go(func() error {
		for record := range records {
			if err := w.WriteData(ctx, map[string]interface{}(record)); err != nil {
				return err
			}
			if bar != nil {
				bar.Increment()
			}
		}
		return nil
	})

	err := g.Wait()
	if bar != nil {
		bar.Finish()
	}

	return err
}
