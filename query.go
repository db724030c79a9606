package main

import (
	"fmt"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type queryOptions struct {
	dbPath     string
	readsFile  string
	outputFile string
	minHits    int
	threads    int
}

func queryCommand() *cobra.Command {
	var opts queryOptions
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Screen reads against a k-mer database",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.threads = numWorkers(threadsFlag)
			return runQuery(&opts)
		},
	}
	cmd.Flags().StringVarP(&opts.dbPath, "database", "d", "", "k-mer database `file` to query against")
	cmd.Flags().StringVarP(&opts.readsFile, "reads", "r", "", "read `file` (FASTA/FASTQ, may be gzipped)")
	cmd.Flags().StringVarP(&opts.outputFile, "output", "o", "", "output `file` for the IDs of matching reads")
	cmd.Flags().IntVarP(&opts.minHits, "min-hits", "c", 1, "minimum k-mer hits to report a read")
	cmd.MarkFlagRequired("database")
	cmd.MarkFlagRequired("reads")
	cmd.MarkFlagRequired("output")
	return cmd
}

// runQuery hands each read to the worker pool as one task, counts that
// read's k-mer hits against the database union, and reports the IDs of
// reads reaching the threshold. One task per read means no read is
// ever reported twice; output order is whatever the pool produces.
func runQuery(opts *queryOptions) error {
	if opts.minHits < 1 {
		return &ArgumentError{Msg: fmt.Sprintf("min-hits %d: must be at least 1", opts.minHits)}
	}
	db, err := loadDB(opts.dbPath)
	if err != nil {
		return err
	}
	union := db.Union()
	log.Infof("%s: k=%d, %d distinct k-mers across %d references",
		opts.dbPath, db.K, len(union), len(db.Refs))

	todo := make(chan seqRecord, opts.threads*queueDepthPerWorker)
	var mtx sync.Mutex
	var matched [][]byte
	var wg sync.WaitGroup
	for i := 0; i < opts.threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range todo {
				hits := 0
				eachKmer(rec.Seq, db.K, func(x kmer) {
					if containsKmer(union, x) {
						hits++
					}
				})
				if hits >= opts.minHits {
					mtx.Lock()
					matched = append(matched, rec.ID)
					mtx.Unlock()
				}
			}
		}()
	}

	err = func() error {
		stream, err := openRecordStream(opts.readsFile)
		if err != nil {
			return err
		}
		defer stream.Close()
		for {
			rec, err := stream.Next()
			if err == io.EOF {
				return nil
			} else if err != nil {
				return err
			}
			todo <- rec
		}
	}()
	close(todo)
	wg.Wait()
	if err != nil {
		return err
	}

	log.Infof("%d reads with >= %d hits", len(matched), opts.minHits)
	return writeFileAtomic(opts.outputFile, func(w io.Writer) error {
		for _, id := range matched {
			if _, err := fmt.Fprintf(w, "%s\n", id); err != nil {
				return err
			}
		}
		return nil
	})
}
