package main

import (
	"gopkg.in/check.v1"
)

type buildSuite struct{}

var _ = check.Suite(&buildSuite{})

func (s *buildSuite) TestBuildRoundTrip(c *check.C) {
	dir := c.MkDir()
	writeFasta(c, dir+"/a.fa", "chr1", "ACGTACGT")
	writeFasta(c, dir+"/b.fa", "chr1", "CCCCCC")
	opts := &buildOptions{
		kmerSize:    3,
		genomeFiles: []string{dir + "/a.fa", dir + "/b.fa"},
		outputFile:  dir + "/out.db",
		threads:     2,
	}
	c.Assert(runBuild(opts), check.IsNil)

	db, err := loadDB(dir + "/out.db")
	c.Assert(err, check.IsNil)
	c.Check(db.K, check.Equals, 3)
	c.Assert(db.Refs, check.HasLen, 2)
	// reference names are the paths as supplied, in argument order
	c.Check(db.Refs[0].Name, check.Equals, dir+"/a.fa")
	c.Check(db.Refs[1].Name, check.Equals, dir+"/b.fa")

	acg, _ := encodeKmer([]byte("ACG"))
	gta, _ := encodeKmer([]byte("GTA"))
	ccc, _ := encodeKmer([]byte("CCC"))
	c.Check(db.Refs[0].Kmers, check.DeepEquals, []kmer{acg, gta})
	c.Check(db.Refs[1].Kmers, check.DeepEquals, []kmer{ccc})
}

// The loaded reference set must equal what counting-mode extraction
// produces for the same file.
func (s *buildSuite) TestBuildMatchesCounting(c *check.C) {
	dir := c.MkDir()
	writeFasta(c, dir+"/g.fa", "chr1", "ACGGTTACAGGATCCATGCANNNACGTACGT")
	opts := &buildOptions{
		kmerSize:    5,
		genomeFiles: []string{dir + "/g.fa"},
		outputFile:  dir + "/out.db",
		threads:     4,
	}
	c.Assert(runBuild(opts), check.IsNil)
	db, err := loadDB(dir + "/out.db")
	c.Assert(err, check.IsNil)

	table := newKmerTable(1)
	c.Assert(countStreams([]string{dir + "/g.fa"}, 5, 1, table, nil), check.IsNil)
	c.Check(db.Refs[0].Kmers, check.DeepEquals, table.drainSorted())
}

func (s *buildSuite) TestBuildDeterministic(c *check.C) {
	dir := c.MkDir()
	writeFasta(c, dir+"/g.fa", "chr1", "ACGGTTACAGGATCCATGCAGGACCATTACA")
	var want []kmer
	for _, workers := range []int{1, 2, 8} {
		opts := &buildOptions{
			kmerSize:    7,
			genomeFiles: []string{dir + "/g.fa"},
			outputFile:  dir + "/out.db",
			threads:     workers,
		}
		c.Assert(runBuild(opts), check.IsNil)
		db, err := loadDB(dir + "/out.db")
		c.Assert(err, check.IsNil)
		if want == nil {
			want = db.Refs[0].Kmers
		} else {
			c.Check(db.Refs[0].Kmers, check.DeepEquals, want)
		}
	}
}
