package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type countOptions struct {
	kmerSize   int
	inputFiles []string
	outputFile string
	minCount   uint64
	npyFile    string
	threads    int
}

func countCommand() *cobra.Command {
	var opts countOptions
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count canonical k-mers in FASTA/FASTQ files",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.threads = numWorkers(threadsFlag)
			return runCount(&opts)
		},
	}
	cmd.Flags().IntVarP(&opts.kmerSize, "kmer-size", "k", 0, "length of the k-mer (1-32)")
	cmd.Flags().StringSliceVarP(&opts.inputFiles, "input", "i", nil, "input FASTA/FASTQ `file`s (may be gzipped)")
	cmd.Flags().StringVarP(&opts.outputFile, "output", "o", "", "output `file` for kmer<TAB>count lines")
	cmd.Flags().Uint64VarP(&opts.minCount, "min-count", "m", 1, "minimum count to report a k-mer")
	cmd.Flags().StringVar(&opts.npyFile, "npy", "", "also export the count column as a numpy uint64 vector to `file`")
	cmd.MarkFlagRequired("kmer-size")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")
	return cmd
}

func runCount(opts *countOptions) error {
	if opts.kmerSize < 1 || opts.kmerSize > 32 {
		return &KmerSizeOutOfRange{K: opts.kmerSize}
	}
	if opts.minCount < 1 {
		return &ArgumentError{Msg: fmt.Sprintf("min-count %d: must be at least 1", opts.minCount)}
	}

	table := newKmerTable(opts.threads)
	bar := newProgressBar(len(opts.inputFiles))
	err := countStreams(opts.inputFiles, opts.kmerSize, opts.threads, table, func() { bar.Increment() })
	bar.Finish()
	if err != nil {
		return err
	}
	log.Infof("counted %d distinct canonical %d-mers across %d files", table.len(), opts.kmerSize, len(opts.inputFiles))

	type entry struct {
		x kmer
		n uint64
	}
	entries := make([]entry, 0, table.len())
	for x, n := range table.drainCounts() {
		if n >= opts.minCount {
			entries = append(entries, entry{x, n})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].x < entries[j].x })
	log.Infof("reporting %d k-mers with count >= %d", len(entries), opts.minCount)

	err = writeFileAtomic(opts.outputFile, func(w io.Writer) error {
		for _, e := range entries {
			if _, err := fmt.Fprintf(w, "%s\t%d\n", decodeKmer(e.x, opts.kmerSize), e.n); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if opts.npyFile == "" {
		return nil
	}
	counts := make([]uint64, len(entries))
	for i, e := range entries {
		counts[i] = e.n
	}
	return writeFileAtomic(opts.npyFile, func(w io.Writer) error {
		npw, err := gonpy.NewWriter(nopCloser{w})
		if err != nil {
			return err
		}
		npw.Shape = []int{len(counts)}
		return npw.WriteUint64(counts)
	})
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
