package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type buildOptions struct {
	kmerSize    int
	genomeFiles []string
	outputFile  string
	threads     int
}

func buildCommand() *cobra.Command {
	var opts buildOptions
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a per-reference k-mer database from genome assemblies",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.threads = numWorkers(threadsFlag)
			return runBuild(&opts)
		},
	}
	cmd.Flags().IntVarP(&opts.kmerSize, "kmer-size", "k", 0, "length of the k-mer (1-32)")
	cmd.Flags().StringSliceVarP(&opts.genomeFiles, "genomes", "g", nil, "input genome assembly `file`s (FASTA, may be gzipped)")
	cmd.Flags().StringVarP(&opts.outputFile, "output", "o", "", "output `path` for the binary k-mer database")
	cmd.MarkFlagRequired("kmer-size")
	cmd.MarkFlagRequired("genomes")
	cmd.MarkFlagRequired("output")
	return cmd
}

// runBuild counts each genome file independently and appends one
// reference per file, in the order the files were supplied. Each
// reference's k-mer list is drained to ascending order before
// serialization so the database bytes do not depend on scheduling.
func runBuild(opts *buildOptions) error {
	if opts.kmerSize < 1 || opts.kmerSize > 32 {
		return &KmerSizeOutOfRange{K: opts.kmerSize}
	}

	db := &kmerDB{K: opts.kmerSize}
	bar := newProgressBar(len(opts.genomeFiles))
	for _, path := range opts.genomeFiles {
		table := newKmerTable(opts.threads)
		if err := countStreams([]string{path}, opts.kmerSize, opts.threads, table, nil); err != nil {
			bar.Finish()
			return err
		}
		kmers := table.drainSorted()
		log.Infof("%s: %d distinct canonical %d-mers", path, len(kmers), opts.kmerSize)
		db.Refs = append(db.Refs, reference{Name: path, Kmers: kmers})
		bar.Increment()
	}
	bar.Finish()

	log.Infof("writing database with %d references to %s", len(db.Refs), opts.outputFile)
	return writeDB(opts.outputFile, db)
}
