package main

import (
	"io"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// shardsPerWorker controls lock striping of the shared table. With
// 16·W shards two workers rarely contend for the same stripe.
const shardsPerWorker = 16

// queueDepthPerWorker bounds in-flight records between the dispatcher
// and the workers, capping transient memory.
const queueDepthPerWorker = 4

type tableShard struct {
	mtx sync.Mutex
	m   map[kmer]uint64
}

// A kmerTable is the shared kmer → count map filled by the counting
// engine. Updates are insert-or-increment under the owning shard's
// lock; iteration order is never exposed, callers drain to sorted
// slices or a merged map.
type kmerTable struct {
	shards []tableShard
}

func newKmerTable(workers int) *kmerTable {
	t := &kmerTable{shards: make([]tableShard, workers*shardsPerWorker)}
	for i := range t.shards {
		t.shards[i].m = map[kmer]uint64{}
	}
	return t
}

func (t *kmerTable) inc(x kmer) {
	// Fibonacci hashing spreads the low bits of consecutive encodings
	// across shards.
	s := &t.shards[uint64(x)*0x9e3779b97f4a7c15%uint64(len(t.shards))]
	s.mtx.Lock()
	s.m[x]++
	s.mtx.Unlock()
}

func (t *kmerTable) len() int {
	n := 0
	for i := range t.shards {
		n += len(t.shards[i].m)
	}
	return n
}

// drainSorted returns the distinct keys in ascending order, releasing
// the shard maps.
func (t *kmerTable) drainSorted() []kmer {
	kmers := make([]kmer, 0, t.len())
	for i := range t.shards {
		for x := range t.shards[i].m {
			kmers = append(kmers, x)
		}
		t.shards[i].m = nil
	}
	sort.Slice(kmers, func(i, j int) bool { return kmers[i] < kmers[j] })
	return kmers
}

// drainCounts merges the shards into one map, releasing them.
func (t *kmerTable) drainCounts() map[kmer]uint64 {
	counts := make(map[kmer]uint64, t.len())
	for i := range t.shards {
		for x, n := range t.shards[i].m {
			counts[x] = n
		}
		t.shards[i].m = nil
	}
	return counts
}

// countStreams feeds every record of the named files through the k-mer
// iterator into table, using the configured number of worker
// goroutines. The dispatcher reads records sequentially (tokenization
// is the only serial step) and hands each record to the pool as an
// independent task; the task channel is bounded so a slow pool
// backpressures the reader. The first failure stops dispatch, the pool
// drains, and that error is returned.
func countStreams(paths []string, k, workers int, table *kmerTable, fileDone func()) error {
	todo := make(chan seqRecord, workers*queueDepthPerWorker)
	errs := make(chan error, 1)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range todo {
				if len(errs) > 0 {
					continue
				}
				n := 0
				eachKmer(rec.Seq, k, func(x kmer) {
					n++
					table.inc(x)
				})
				if n == 0 && len(rec.Seq) >= k {
					log.Infof("record %q yielded no k-mers (ambiguous bases)", string(rec.ID))
				}
			}
		}()
	}

	for _, path := range paths {
		if len(errs) > 0 {
			break
		}
		err := func() error {
			stream, err := openRecordStream(path)
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
				if len(errs) > 0 {
					return nil
				}
			}
		}()
		if err != nil {
			select {
			case errs <- err:
			default:
			}
			break
		}
		if fileDone != nil {
			fileDone()
		}
	}
	close(todo)
	wg.Wait()
	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}
