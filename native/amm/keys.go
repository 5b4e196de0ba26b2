package amm

import "github.com/ethereum/go-ethereum/common"

var (
	pairPrefix   = []byte("amm/pair/")
	pairIndexKey = []byte("amm/pair/index")
)

func pairKey(addr common.Address) []byte {
	buf := make([]byte, len(pairPrefix)+common.AddressLength)
	copy(buf, pairPrefix)
	copy(buf[len(pairPrefix):], addr.Bytes())
	return buf
}
