package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"
)

// On-disk database layout, little-endian throughout:
//
//	magic      8 bytes "ORIONKMR"
//	format_ver uint16  1
//	k          uint8
//	reserved   uint8   0
//	ref_count  uint64
//	per reference: name_len uint32, name bytes,
//	               kmer_count uint64, kmer_count × uint64 ascending
//	checksum   uint64  xxhash64 of all preceding bytes (0 = absent)
const (
	dbMagic         = "ORIONKMR"
	dbFormatVersion = 1
	dbMaxNameLen    = 1 << 20
)

// A reference is the distinct canonical k-mers of one input file,
// named by that file's path as supplied to build.
type reference struct {
	Name  string
	Kmers []kmer // ascending
}

type kmerDB struct {
	K    int
	Refs []reference

	union []kmer
}

// Union returns the deduplicated ascending union of all references,
// built by k-way merge on first use and cached.
func (db *kmerDB) Union() []kmer {
	if db.union == nil {
		lists := make([][]kmer, len(db.Refs))
		for i, ref := range db.Refs {
			lists[i] = ref.Kmers
		}
		db.union = mergeSorted(lists)
	}
	return db.union
}

// mergeSorted merges ascending lists into one deduplicated ascending
// list.
func mergeSorted(lists [][]kmer) []kmer {
	pos := make([]int, len(lists))
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	out := make([]kmer, 0, total)
	for {
		best := -1
		var min kmer
		for i, l := range lists {
			if pos[i] >= len(l) {
				continue
			}
			if best < 0 || l[pos[i]] < min {
				best = i
				min = l[pos[i]]
			}
		}
		if best < 0 {
			return out
		}
		if len(out) == 0 || out[len(out)-1] != min {
			out = append(out, min)
		}
		pos[best]++
	}
}

// containsKmer reports membership of x in an ascending list.
func containsKmer(list []kmer, x kmer) bool {
	i := sort.Search(len(list), func(i int) bool { return list[i] >= x })
	return i < len(list) && list[i] == x
}

// intersectCount returns |a ∩ b| for ascending deduplicated lists.
func intersectCount(a, b []kmer) int {
	n := 0
	for len(a) > 0 && len(b) > 0 {
		switch {
		case a[0] < b[0]:
			a = a[1:]
		case a[0] > b[0]:
			b = b[1:]
		default:
			n++
			a = a[1:]
			b = b[1:]
		}
	}
	return n
}

type dbWriter struct {
	w   io.Writer
	buf [8]byte
	err error
}

func (w *dbWriter) bytes(p []byte) {
	if w.err == nil {
		_, w.err = w.w.Write(p)
	}
}

func (w *dbWriter) u16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[:2], v)
	w.bytes(w.buf[:2])
}

func (w *dbWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[:4], v)
	w.bytes(w.buf[:4])
}

func (w *dbWriter) u64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[:8], v)
	w.bytes(w.buf[:8])
}

// writeDB serializes db to path atomically: the blob goes to
// <path>.tmp and is renamed into place only once complete, so a
// partial database is never observable under the target path.
func writeDB(path string, db *kmerDB) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return &OutputError{Path: path, Err: err}
	}
	defer func() {
		if f != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()
	bufw := bufio.NewWriter(f)
	digest := xxhash.New()
	w := &dbWriter{w: io.MultiWriter(bufw, digest)}
	w.bytes([]byte(dbMagic))
	w.u16(dbFormatVersion)
	w.bytes([]byte{byte(db.K), 0})
	w.u64(uint64(len(db.Refs)))
	for _, ref := range db.Refs {
		w.u32(uint32(len(ref.Name)))
		w.bytes([]byte(ref.Name))
		w.u64(uint64(len(ref.Kmers)))
		for _, x := range ref.Kmers {
			w.u64(uint64(x))
		}
	}
	sum := digest.Sum64()
	w.u64(sum) // trailer, not part of the digest
	if w.err != nil {
		return &OutputError{Path: path, Err: w.err}
	}
	if err := bufw.Flush(); err != nil {
		return &OutputError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		f = nil
		os.Remove(tmp)
		return &OutputError{Path: path, Err: err}
	}
	f = nil
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &OutputError{Path: path, Err: err}
	}
	log.Debugf("%s: wrote %d references, checksum %016x", path, len(db.Refs), sum)
	return nil
}

type dbReader struct {
	r   io.Reader
	buf [8]byte
	err error
}

func (r *dbReader) bytes(p []byte) {
	if r.err == nil {
		_, r.err = io.ReadFull(r.r, p)
	}
}

func (r *dbReader) u16() uint16 {
	r.bytes(r.buf[:2])
	return binary.LittleEndian.Uint16(r.buf[:2])
}

func (r *dbReader) u32() uint32 {
	r.bytes(r.buf[:4])
	return binary.LittleEndian.Uint32(r.buf[:4])
}

func (r *dbReader) u64() uint64 {
	r.bytes(r.buf[:8])
	return binary.LittleEndian.Uint64(r.buf[:8])
}

// loadDB reads and validates a database file. Structural violations
// (bad magic, unknown version, out-of-range k, oversized name,
// unsorted or out-of-range k-mers, checksum mismatch) surface as
// *DatabaseError.
func loadDB(path string) (*kmerDB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DatabaseError{Path: path, Err: err}
	}
	defer f.Close()
	raw := bufio.NewReader(f)
	digest := xxhash.New()
	r := &dbReader{r: io.TeeReader(raw, digest)}

	var magic [8]byte
	r.bytes(magic[:])
	if r.err == nil && string(magic[:]) != dbMagic {
		return nil, &DatabaseError{Path: path, Err: fmt.Errorf("bad magic %q", magic[:])}
	}
	if ver := r.u16(); r.err == nil && ver != dbFormatVersion {
		return nil, &DatabaseError{Path: path, Err: fmt.Errorf("unsupported format version %d", ver)}
	}
	var kres [2]byte
	r.bytes(kres[:])
	k := int(kres[0])
	if r.err == nil && (k < 1 || k > 32) {
		return nil, &DatabaseError{Path: path, Err: fmt.Errorf("k-mer size %d out of range", k)}
	}
	mask := kmerMask(k)
	refCount := r.u64()
	db := &kmerDB{K: k}
	for i := uint64(0); i < refCount && r.err == nil; i++ {
		nameLen := r.u32()
		if r.err != nil {
			break
		}
		if nameLen > dbMaxNameLen {
			return nil, &DatabaseError{Path: path, Err: fmt.Errorf("reference name length %d exceeds limit", nameLen)}
		}
		name := make([]byte, nameLen)
		r.bytes(name)
		kmerCount := r.u64()
		if r.err != nil {
			break
		}
		// Cap the initial allocation; a corrupt count fails on read
		// long before the slice grows to it.
		capHint := kmerCount
		if capHint > 1<<20 {
			capHint = 1 << 20
		}
		kmers := make([]kmer, 0, capHint)
		for j := uint64(0); j < kmerCount && r.err == nil; j++ {
			x := kmer(r.u64())
			if r.err != nil {
				break
			}
			if x&^mask != 0 {
				return nil, &DatabaseError{Path: path, Err: fmt.Errorf("reference %q: k-mer %#x exceeds %d bits", name, uint64(x), 2*k)}
			}
			if len(kmers) > 0 && x <= kmers[len(kmers)-1] {
				return nil, &DatabaseError{Path: path, Err: fmt.Errorf("reference %q: k-mers not strictly ascending", name)}
			}
			kmers = append(kmers, x)
		}
		db.Refs = append(db.Refs, reference{Name: string(name), Kmers: kmers})
	}
	// Capture the digest before the trailer passes through the tee,
	// so it covers exactly the preceding bytes.
	sum := digest.Sum64()
	stored := r.u64()
	if r.err != nil {
		return nil, &DatabaseError{Path: path, Err: r.err}
	}
	if stored != 0 && stored != sum {
		return nil, &DatabaseError{Path: path, Err: fmt.Errorf("checksum mismatch: stored %016x, computed %016x", stored, sum)}
	}
	if _, err := raw.ReadByte(); err != io.EOF {
		return nil, &DatabaseError{Path: path, Err: fmt.Errorf("trailing garbage after checksum")}
	}
	log.Debugf("%s: loaded k=%d, %d references", path, db.K, len(db.Refs))
	return db, nil
}
