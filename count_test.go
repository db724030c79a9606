package main

import (
	"os"

	"github.com/kshedden/gonpy"
	"gopkg.in/check.v1"
)

type countSuite struct{}

var _ = check.Suite(&countSuite{})

func (s *countSuite) TestCountReport(c *check.C) {
	dir := c.MkDir()
	writeFasta(c, dir+"/in.fa", "seq1", "ACGTACGT")
	opts := &countOptions{
		kmerSize:   3,
		inputFiles: []string{dir + "/in.fa"},
		outputFile: dir + "/out.tsv",
		minCount:   1,
		threads:    2,
	}
	c.Assert(runCount(opts), check.IsNil)
	out, err := os.ReadFile(dir + "/out.tsv")
	c.Assert(err, check.IsNil)
	c.Check(string(out), check.Equals, "ACG\t4\nGTA\t2\n")
}

func (s *countSuite) TestMinCountFilter(c *check.C) {
	dir := c.MkDir()
	writeFasta(c, dir+"/in.fa", "seq1", "ACGTACGT")
	opts := &countOptions{
		kmerSize:   3,
		inputFiles: []string{dir + "/in.fa"},
		outputFile: dir + "/out.tsv",
		minCount:   3,
		threads:    1,
	}
	c.Assert(runCount(opts), check.IsNil)
	out, err := os.ReadFile(dir + "/out.tsv")
	c.Assert(err, check.IsNil)
	c.Check(string(out), check.Equals, "ACG\t4\n")
}

func (s *countSuite) TestAmbiguitySplit(c *check.C) {
	dir := c.MkDir()
	writeFasta(c, dir+"/in.fa", "seq1", "ACGNACG")
	opts := &countOptions{
		kmerSize:   3,
		inputFiles: []string{dir + "/in.fa"},
		outputFile: dir + "/out.tsv",
		minCount:   1,
		threads:    1,
	}
	c.Assert(runCount(opts), check.IsNil)
	out, err := os.ReadFile(dir + "/out.tsv")
	c.Assert(err, check.IsNil)
	c.Check(string(out), check.Equals, "ACG\t2\n")
}

func (s *countSuite) TestNumpyExport(c *check.C) {
	dir := c.MkDir()
	writeFasta(c, dir+"/in.fa", "seq1", "ACGTACGT")
	opts := &countOptions{
		kmerSize:   3,
		inputFiles: []string{dir + "/in.fa"},
		outputFile: dir + "/out.tsv",
		npyFile:    dir + "/counts.npy",
		minCount:   1,
		threads:    1,
	}
	c.Assert(runCount(opts), check.IsNil)
	rdr, err := gonpy.NewFileReader(dir + "/counts.npy")
	c.Assert(err, check.IsNil)
	c.Check(rdr.Shape, check.DeepEquals, []int{2})
	counts, err := rdr.GetUint64()
	c.Assert(err, check.IsNil)
	c.Check(counts, check.DeepEquals, []uint64{4, 2})
}

func (s *countSuite) TestKmerSizeValidation(c *check.C) {
	opts := &countOptions{kmerSize: 33, inputFiles: []string{"x"}, outputFile: "y", minCount: 1, threads: 1}
	err := runCount(opts)
	c.Assert(err, check.NotNil)
	_, ok := err.(*KmerSizeOutOfRange)
	c.Check(ok, check.Equals, true)

	opts.kmerSize = 0
	err = runCount(opts)
	c.Assert(err, check.NotNil)
	_, ok = err.(*KmerSizeOutOfRange)
	c.Check(ok, check.Equals, true)
}

func (s *countSuite) TestDeterministicAcrossWorkers(c *check.C) {
	dir := c.MkDir()
	writeFasta(c, dir+"/in.fa",
		"r1", "ACGGTTACAGGATCCATGCAGGACCATTACA",
		"r2", "GGGGGGCCCCCCAAAAATTTTT",
	)
	var want []byte
	for _, workers := range []int{1, 2, 8} {
		out := dir + "/out.tsv"
		opts := &countOptions{
			kmerSize:   4,
			inputFiles: []string{dir + "/in.fa"},
			outputFile: out,
			minCount:   1,
			threads:    workers,
		}
		c.Assert(runCount(opts), check.IsNil)
		got, err := os.ReadFile(out)
		c.Assert(err, check.IsNil)
		if want == nil {
			want = got
		} else {
			c.Check(string(got), check.Equals, string(want))
		}
	}
}
