package digest

import (
	"crypto/sha256"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// CID returns the CIDv1 (raw codec, sha2-256) content address of b.
func CID(b []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(b, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// CIDFromSum returns the content address of bytes whose SHA-256 is sum,
// without needing the bytes themselves.
func CIDFromSum(sum []byte) (cid.Cid, error) {
	if len(sum) != sha256.Size {
		return cid.Undef, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidDigest, sha256.Size, len(sum))
	}
	mh, err := multihash.Encode(sum, multihash.SHA2_256)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// CIDFromDigest returns the content address named by a manifest digest string.
func CIDFromDigest(d string) (cid.Cid, error) {
	sum, _, err := Decode(d)
	if err != nil {
		return cid.Undef, err
	}
	return CIDFromSum(sum)
}
