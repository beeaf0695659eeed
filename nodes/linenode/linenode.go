// Package linenode provides a bufio.Scanner-backed Extractor yielding one
// record per line. Stdlib by the same reasoning as nodes/csvnode: no
// third-party line-oriented reader appears in the corpus.
package linenode

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"

	log "github.com/sirupsen/logrus"

	"github.com/fab2s/yaetl"
)

// Extractor scans lines from r in batches, yielding each line as the record
// value directly (a string), with no field mapping.
type Extractor struct {
	s         *bufio.Scanner
	lineNo    int
	batchSize int
	batch     []string
}

// NewExtractor creates a line Extractor reading batches of batchSize lines
// from r.
func NewExtractor(r io.Reader, batchSize int) *Extractor {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Extractor{s: bufio.NewScanner(r), batchSize: batchSize}
}

func (e *Extractor) Extract(ctx context.Context, param any) (bool, error) {
	e.batch = e.batch[:0]
	for len(e.batch) < e.batchSize && e.s.Scan() {
		e.lineNo++
		e.batch = append(e.batch, e.s.Text())
	}
	if err := e.s.Err(); err != nil {
		log.WithField("op", "linenode.Extractor.Extract").WithField("line", e.lineNo).WithError(err).Error("scan line")
		return false, fmt.Errorf("linenode: scan line %d: %w", e.lineNo, err)
	}
	return len(e.batch) > 0, nil
}

func (e *Extractor) GetTraversable(ctx context.Context, param any) iter.Seq[yaetl.Record] {
	return func(yield func(yaetl.Record) bool) {
		for _, line := range e.batch {
			if !yield(line) {
				return
			}
		}
	}
}
