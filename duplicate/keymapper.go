package duplicate

import (
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/xufuture/qserv-sub001/popmap"
	"github.com/xufuture/qserv-sub001/recio"
)

// KeyInfo bundles one key field's remapping inputs: the population map
// and memory-mapped ids.bin of the index the key values are drawn from,
// and the field's index in the duplicator's output record.
type KeyInfo struct {
	Map        *popmap.PopulationMap
	File       *recio.MappedFile
	FieldIndex int
}

// KeyMapper remaps a key found in a source HTM trixel to a key unique
// to the destination trixel. The key K of a record in source trixel H
// is mapped to:
//
//	K' = H' << 32 | rank_of(K in H)
//
// where rank_of(K in H) is the position of K in H's HTM-sorted id
// slice. Because ids.bin is parallel to data.csv, this rank is found by
// binary search over the source trixel's id sub-slice.
type KeyMapper struct {
	ids        []int64
	destHtmID  uint32
	fieldIndex int
}

// NewKeyMapper builds the KeyMapper remapping key.FieldIndex's values
// from sourceHtmID to destHtmID. It copies the source trixel's id
// sub-slice out of the memory-mapped ids.bin (rather than binary
// searching the mapped bytes directly) so the search can use plain
// int64 comparisons instead of repeated little-endian decodes; it also
// issues a WILLNEED hint over the sub-slice's backing pages, matching
// the source's eager prefetch of the id range it is about to search.
func NewKeyMapper(key KeyInfo, sourceHtmID, destHtmID uint32) (*KeyMapper, error) {
	below := key.Map.NumRecordsBelow(sourceHtmID)
	n := key.Map.NumRecords(sourceHtmID)
	off := int64(below) * 8
	length := int64(n) * 8
	data := key.File.Data()
	if off+length > int64(len(data)) {
		return nil, errors.New("duplicate: ids.bin is shorter than the population map claims")
	}
	if err := key.File.Advise(off, length, unix.MADV_WILLNEED); err != nil {
		return nil, errors.Wrap(err, "duplicate: prefetching id sub-slice")
	}
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(binary.LittleEndian.Uint64(data[off+int64(i)*8:]))
	}
	return &KeyMapper{ids: ids, destHtmID: destHtmID, fieldIndex: key.FieldIndex}, nil
}

// FieldIndex returns the output field index this mapper remaps.
func (k *KeyMapper) FieldIndex() int { return k.fieldIndex }

// Map returns the destination key for source key, or an error if key is
// not present in the source trixel's id slice.
func (k *KeyMapper) Map(key int64) (int64, error) {
	i := sort.Search(len(k.ids), func(i int) bool { return k.ids[i] >= key })
	if i == len(k.ids) || k.ids[i] != key {
		return 0, errors.Errorf("duplicate: key %d not found in source trixel id index", key)
	}
	return int64(k.destHtmID)<<32 + int64(i), nil
}
