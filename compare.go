package main

import (
	"encoding/json"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type compareOptions struct {
	db1Path    string
	db2Path    string
	outputFile string
}

type comparisonOutput struct {
	DB1Path          string  `json:"db1_path"`
	DB2Path          string  `json:"db2_path"`
	KmerSize         int     `json:"kmer_size"`
	DB1UniqueKmers   int     `json:"db1_unique_kmers"`
	DB2UniqueKmers   int     `json:"db2_unique_kmers"`
	IntersectionSize int     `json:"intersection_size"`
	UnionSize        int     `json:"union_size"`
	JaccardIndex     float64 `json:"jaccard_index"`
}

func compareCommand() *cobra.Command {
	var opts compareOptions
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare the k-mer sets of two databases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(&opts)
		},
	}
	cmd.Flags().StringVar(&opts.db1Path, "db1", "", "first k-mer database `file`")
	cmd.Flags().StringVar(&opts.db2Path, "db2", "", "second k-mer database `file`")
	cmd.Flags().StringVarP(&opts.outputFile, "output", "o", "", "output `file` for comparison stats (JSON)")
	cmd.MarkFlagRequired("db1")
	cmd.MarkFlagRequired("db2")
	cmd.MarkFlagRequired("output")
	return cmd
}

// runCompare forms each database's union across references and
// intersects the two sorted unions in a single linear pass.
func runCompare(opts *compareOptions) error {
	db1, err := loadDB(opts.db1Path)
	if err != nil {
		return err
	}
	db2, err := loadDB(opts.db2Path)
	if err != nil {
		return err
	}
	if db1.K != db2.K {
		return &KmerSizeMismatch{Want: db1.K, Have: db2.K, Path: opts.db2Path}
	}

	u1 := db1.Union()
	u2 := db2.Union()
	intersection := intersectCount(u1, u2)
	union := len(u1) + len(u2) - intersection
	jaccard := 0.0
	if union > 0 {
		jaccard = float64(intersection) / float64(union)
	}
	log.Infof("|U1|=%d |U2|=%d intersection=%d union=%d jaccard=%.4f",
		len(u1), len(u2), intersection, union, jaccard)

	out := comparisonOutput{
		DB1Path:          opts.db1Path,
		DB2Path:          opts.db2Path,
		KmerSize:         db1.K,
		DB1UniqueKmers:   len(u1),
		DB2UniqueKmers:   len(u2),
		IntersectionSize: intersection,
		UnionSize:        union,
		JaccardIndex:     jaccard,
	}
	return writeFileAtomic(opts.outputFile, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	})
}
