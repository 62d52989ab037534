package popmap

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"

	"github.com/xufuture/qserv-sub001/sphere"
)

// WriteMapFile serializes a queryable PopulationMap to path in the
// little-endian u32 stream format: [num_triangles, num_non_empty,
// (id, n_records, n_bytes)*num_non_empty].
func WriteMapFile(m *PopulationMap, path string) error {
	m.requireQueryable()
	buf := make([]uint32, 2+3*len(m.nonEmpty))
	buf[0] = m.numTrixels
	buf[1] = uint32(len(m.nonEmpty))
	for i, id := range m.nonEmpty {
		buf[2+3*i] = id
		buf[2+3*i+1] = m.NumRecords(id)
		buf[2+3*i+2] = m.Size(id)
	}
	raw := make([]byte, 4*len(buf))
	for i, v := range buf {
		binary.LittleEndian.PutUint32(raw[4*i:], v)
	}
	return errors.Wrap(os.WriteFile(path, raw, 0644), "popmap: write map file")
}

// ReadMapFile reads a PopulationMap previously written by WriteMapFile.
// The returned map is already queryable.
func ReadMapFile(path string) (*PopulationMap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "popmap: read map file")
	}
	if len(raw)%4 != 0 || len(raw) < 8 {
		return nil, errors.New("popmap: invalid population map file")
	}
	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	numTrixels := words[0]
	level := sphere.HtmLevel(numTrixels)
	if level < 0 {
		return nil, errors.New("popmap: invalid population map file: bad triangle count")
	}
	n := words[1]
	if uint64(len(raw)) != uint64(4)*(3*uint64(n)+2) || n > numTrixels {
		return nil, errors.New("popmap: invalid population map file: size mismatch")
	}
	m := &PopulationMap{
		level:        level,
		numTrixels:   numTrixels,
		countPrefix:  make([]uint64, numTrixels+1),
		offsetPrefix: make([]uint64, numTrixels+1),
	}
	for i := uint32(0); i < n; i++ {
		id := words[2+3*i]
		nrec := uint64(words[2+3*i+1])
		nbytes := uint64(words[2+3*i+2])
		slot := id - numTrixels + 1
		m.countPrefix[slot] = nrec
		m.offsetPrefix[slot] = nbytes
	}
	if err := m.MakeQueryable(); err != nil {
		return nil, err
	}
	return m, nil
}
