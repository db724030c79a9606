package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type classifyOptions struct {
	inputFile    string
	dbPaths      []string
	outputFile   string
	kmerSize     int
	minFrequency uint64
	minCoverage  float64
	tsvFile      string
	threads      int
}

type referenceResult struct {
	ReferenceName        string  `json:"reference_name"`
	TotalKmersInRef      int     `json:"total_kmers_in_reference"`
	InputKmersHittingRef int     `json:"input_kmers_hitting_reference"`
	SumDepth             uint64  `json:"sum_depth_of_matched_kmers_in_input"`
	AvgDepth             float64 `json:"avg_depth_of_matched_kmers_in_input"`
	ProportionInputKmers float64 `json:"proportion_input_kmers_hitting_reference"`
	BreadthOfCoverage    float64 `json:"reference_breadth_of_coverage"`
}

type databaseResult struct {
	DatabasePath             string            `json:"database_path"`
	DatabaseKmerSize         int               `json:"database_kmer_size"`
	TotalUniqueKmersInDB     int               `json:"total_unique_kmers_in_db_across_references"`
	OverallInputKmersMatched int               `json:"overall_input_kmers_matched_in_db"`
	OverallSumDepth          uint64            `json:"overall_sum_depth_of_matched_kmers_in_input"`
	OverallAvgDepth          float64           `json:"overall_avg_depth_of_matched_kmers_in_input"`
	ProportionInputKmersInDB float64           `json:"proportion_input_kmers_in_db_overall"`
	ProportionDBKmersCovered float64           `json:"proportion_db_kmers_covered_overall"`
	References               []referenceResult `json:"references"`
}

type classificationOutput struct {
	InputFilePath           string           `json:"input_file_path"`
	TotalUniqueKmersInInput int              `json:"total_unique_kmers_in_input"`
	MinKmerFrequencyFilter  uint64           `json:"min_kmer_frequency_filter"`
	DatabasesAnalyzed       []databaseResult `json:"databases_analyzed"`
}

func classifyCommand() *cobra.Command {
	var opts classifyOptions
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify an input against k-mer databases and report coverage statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.threads = numWorkers(threadsFlag)
			return runClassify(&opts)
		},
	}
	cmd.Flags().StringVarP(&opts.inputFile, "input", "i", "", "input FASTA/FASTQ `file` (may be gzipped)")
	cmd.Flags().StringSliceVarP(&opts.dbPaths, "database", "d", nil, "k-mer database `file`s to classify against")
	cmd.Flags().StringVarP(&opts.outputFile, "output", "o", "", "output `file` for classification results (JSON)")
	cmd.Flags().IntVar(&opts.kmerSize, "kmer-size", 0, "validate that every database uses this k-mer size")
	cmd.Flags().Uint64Var(&opts.minFrequency, "min-kmer-frequency", 1, "ignore input k-mers seen fewer times than this")
	cmd.Flags().Float64Var(&opts.minCoverage, "min-coverage", 0, "omit references with breadth of coverage below this (0-1)")
	cmd.Flags().StringVar(&opts.tsvFile, "output-tsv", "", "also write a per-reference summary TSV to `file`")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("database")
	cmd.MarkFlagRequired("output")
	return cmd
}

func runClassify(opts *classifyOptions) error {
	if opts.minFrequency < 1 {
		return &ArgumentError{Msg: fmt.Sprintf("min-kmer-frequency %d: must be at least 1", opts.minFrequency)}
	}
	if opts.minCoverage < 0 || opts.minCoverage > 1 {
		return &ArgumentError{Msg: fmt.Sprintf("min-coverage %g: must be within [0,1]", opts.minCoverage)}
	}

	// The effective k comes from -kmer-size when supplied, otherwise
	// from the first database; every database must agree. The flag
	// validates, it never re-keys a database.
	k := 0
	if opts.kmerSize != 0 {
		if opts.kmerSize < 1 || opts.kmerSize > 32 {
			return &KmerSizeOutOfRange{K: opts.kmerSize}
		}
		k = opts.kmerSize
	}
	dbs := make([]*kmerDB, 0, len(opts.dbPaths))
	for _, path := range opts.dbPaths {
		db, err := loadDB(path)
		if err != nil {
			return err
		}
		if k == 0 {
			k = db.K
			log.Infof("adopting k=%d from first database %s", k, path)
		} else if db.K != k {
			return &KmerSizeMismatch{Want: k, Have: db.K, Path: path}
		}
		dbs = append(dbs, db)
	}

	// Input multiset, then the minimum-frequency filter.
	table := newKmerTable(opts.threads)
	if err := countStreams([]string{opts.inputFile}, k, opts.threads, table, nil); err != nil {
		return err
	}
	counts := table.drainCounts()
	var totalDepth uint64
	for x, n := range counts {
		if n < opts.minFrequency {
			delete(counts, x)
			continue
		}
		totalDepth += n
	}
	// Sorted key list: deterministic iteration and O(log n) probes
	// below.
	inputKmers := make([]kmer, 0, len(counts))
	for x := range counts {
		inputKmers = append(inputKmers, x)
	}
	sort.Slice(inputKmers, func(i, j int) bool { return inputKmers[i] < inputKmers[j] })
	log.Infof("input: %d distinct k-mers (total depth %d) after frequency filter >= %d",
		len(inputKmers), totalDepth, opts.minFrequency)

	out := classificationOutput{
		InputFilePath:           opts.inputFile,
		TotalUniqueKmersInInput: len(inputKmers),
		MinKmerFrequencyFilter:  opts.minFrequency,
		DatabasesAnalyzed:       make([]databaseResult, 0, len(dbs)),
	}
	bar := newProgressBar(len(dbs))
	for i, db := range dbs {
		out.DatabasesAnalyzed = append(out.DatabasesAnalyzed,
			classifyAgainst(db, opts.dbPaths[i], inputKmers, counts, opts.minCoverage))
		bar.Increment()
	}
	bar.Finish()

	err := writeFileAtomic(opts.outputFile, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	})
	if err != nil {
		return err
	}
	if opts.tsvFile == "" {
		return nil
	}
	return writeFileAtomic(opts.tsvFile, func(w io.Writer) error {
		return writeClassifyTSV(w, &out)
	})
}

// classifyAgainst computes one database's overall and per-reference
// statistics. The overall numbers always reflect the full database
// union; the min-coverage filter only prunes the references list.
func classifyAgainst(db *kmerDB, path string, inputKmers []kmer, counts map[kmer]uint64, minCoverage float64) databaseResult {
	union := db.Union()
	overallHits := 0
	var overallDepth uint64
	for _, x := range inputKmers {
		if containsKmer(union, x) {
			overallHits++
			overallDepth += counts[x]
		}
	}

	res := databaseResult{
		DatabasePath:             path,
		DatabaseKmerSize:         db.K,
		TotalUniqueKmersInDB:     len(union),
		OverallInputKmersMatched: overallHits,
		OverallSumDepth:          overallDepth,
		OverallAvgDepth:          ratio(float64(overallDepth), float64(overallHits)),
		ProportionInputKmersInDB: ratio(float64(overallHits), float64(len(inputKmers))),
		ProportionDBKmersCovered: ratio(float64(overallHits), float64(len(union))),
		References:               make([]referenceResult, 0, len(db.Refs)),
	}
	for _, ref := range db.Refs {
		hits := 0
		var depth uint64
		for _, x := range inputKmers {
			if containsKmer(ref.Kmers, x) {
				hits++
				depth += counts[x]
			}
		}
		breadth := ratio(float64(hits), float64(len(ref.Kmers)))
		if breadth < minCoverage {
			log.Debugf("%s: reference %q breadth %.4f below %.4f, omitted", path, ref.Name, breadth, minCoverage)
			continue
		}
		res.References = append(res.References, referenceResult{
			ReferenceName:        ref.Name,
			TotalKmersInRef:      len(ref.Kmers),
			InputKmersHittingRef: hits,
			SumDepth:             depth,
			AvgDepth:             ratio(float64(depth), float64(hits)),
			ProportionInputKmers: ratio(float64(hits), float64(len(inputKmers))),
			BreadthOfCoverage:    breadth,
		})
	}
	return res
}

// ratio is a/b with the documented 0.0-on-empty-denominator rule;
// never NaN.
func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func writeClassifyTSV(w io.Writer, out *classificationOutput) error {
	_, err := fmt.Fprintln(w, "database\treference\ttotal_kmers_in_reference\tinput_kmers_hitting_reference\tsum_depth\tavg_depth\tproportion_input_kmers_hitting_reference\treference_breadth_of_coverage")
	if err != nil {
		return err
	}
	for _, db := range out.DatabasesAnalyzed {
		for _, ref := range db.References {
			_, err := fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.4f\t%.4f\t%.4f\n",
				db.DatabasePath, ref.ReferenceName,
				ref.TotalKmersInRef, ref.InputKmersHittingRef, ref.SumDepth,
				ref.AvgDepth, ref.ProportionInputKmers, ref.BreadthOfCoverage)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
