package cas

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/klauspost/compress/zstd"
	"github.com/multiformats/go-multihash"
)

// Key prefixes shared by everything stored in the hangfuzz pebble database.
const (
	PrefixCAS     = "cas:"
	PrefixSession = "session:"
	PrefixRun     = "run:"
)

const compressionMagic = "HFZ1"

// ErrNotFound is returned by Get for an unknown CID.
var ErrNotFound = errors.New("CID not found")

// CASStore implements content-addressable storage for captured output
type CASStore struct {
	db       *pebble.DB
	hashAlgo string
}

// CASStats summarises the stored objects
type CASStats struct {
	TotalObjects int
	TotalSize    int64 // compressed bytes on disk
}

// NewCASStore creates a new content-addressable storage instance
func NewCASStore(db *pebble.DB, hashAlgo string) (*CASStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble database is not initialized")
	}
	switch hashAlgo {
	case "sha256", "blake3":
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", hashAlgo)
	}
	return &CASStore{db: db, hashAlgo: hashAlgo}, nil
}

// ComputeCID computes a content identifier for the given data
func (c *CASStore) ComputeCID(data []byte) (string, error) {
	var hashType uint64

	switch c.hashAlgo {
	case "sha256":
		hashType = multihash.SHA2_256
	case "blake3":
		hashType = multihash.BLAKE3
	default:
		return "", fmt.Errorf("unsupported hash algorithm: %s", c.hashAlgo)
	}

	mh, err := multihash.Sum(data, hashType, -1)
	if err != nil {
		return "", fmt.Errorf("failed to compute multihash: %w", err)
	}

	return mh.B58String(), nil
}

// PutWithSize stores data and returns its CID along with the compressed bytes written.
// If the CID already exists, the storedBytes value will be zero.
func (c *CASStore) PutWithSize(data []byte) (string, int, error) {
	cid, err := c.ComputeCID(data)
	if err != nil {
		return "", 0, err
	}

	exists, err := c.Has(cid)
	if err != nil {
		return "", 0, err
	}
	if exists {
		return cid, 0, nil
	}

	compressed, err := compressForStorage(data)
	if err != nil {
		return "", 0, fmt.Errorf("failed to compress object: %w", err)
	}

	if err := c.db.Set(casKey(cid), compressed, pebble.NoSync); err != nil {
		return "", 0, fmt.Errorf("failed to store in CAS: %w", err)
	}

	return cid, len(compressed), nil
}

// Put stores data and returns its CID. Identical data is stored once.
func (c *CASStore) Put(data []byte) (string, error) {
	cid, _, err := c.PutWithSize(data)
	return cid, err
}

// Get retrieves data by CID
func (c *CASStore) Get(cid string) ([]byte, error) {
	value, closer, err := c.db.Get(casKey(cid))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CID %s: %w", cid, err)
	}
	defer closer.Close()

	data, err := decompressFromStorage(value)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress CID %s: %w", cid, err)
	}
	return data, nil
}

// Has checks if a CID exists
func (c *CASStore) Has(cid string) (bool, error) {
	_, closer, err := c.db.Get(casKey(cid))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

// GetStats returns statistics about the store
func (c *CASStore) GetStats() (CASStats, error) {
	var stats CASStats

	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(PrefixCAS),
		UpperBound: append([]byte(PrefixCAS), 0xff),
	})
	if err != nil {
		return stats, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		stats.TotalObjects++
		stats.TotalSize += int64(len(iter.Value()))
	}
	return stats, iter.Error()
}

func casKey(cid string) []byte {
	return []byte(PrefixCAS + cid)
}

var (
	zstdEncoderOnce sync.Once
	zstdDecoderOnce sync.Once
	zstdEncoder     *zstd.Encoder
	zstdDecoder     *zstd.Decoder
	zstdEncoderErr  error
	zstdDecoderErr  error
)

func getZstdEncoder() (*zstd.Encoder, error) {
	zstdEncoderOnce.Do(func() {
		zstdEncoder, zstdEncoderErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return zstdEncoder, zstdEncoderErr
}

func getZstdDecoder() (*zstd.Decoder, error) {
	zstdDecoderOnce.Do(func() {
		zstdDecoder, zstdDecoderErr = zstd.NewReader(nil)
	})
	return zstdDecoder, zstdDecoderErr
}

func compressForStorage(data []byte) ([]byte, error) {
	enc, err := getZstdEncoder()
	if err != nil {
		return nil, err
	}
	dst := enc.EncodeAll(data, nil)
	return append([]byte(compressionMagic), dst...), nil
}

func decompressFromStorage(data []byte) ([]byte, error) {
	if len(data) < len(compressionMagic) || !bytes.Equal(data[:len(compressionMagic)], []byte(compressionMagic)) {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}

	dec, err := getZstdDecoder()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(data[len(compressionMagic):], nil)
}
