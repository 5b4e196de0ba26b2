package staking

import "github.com/ethereum/go-ethereum/common"

var (
	poolPrefix   = []byte("staking/pool/")
	poolIndexKey = []byte("staking/pool/index")
	sequenceKey  = []byte("staking/sequence")
	stakePrefix  = []byte("staking/stake/")
)

func poolKey(addr common.Address) []byte {
	buf := make([]byte, len(poolPrefix)+common.AddressLength)
	copy(buf, poolPrefix)
	copy(buf[len(poolPrefix):], addr.Bytes())
	return buf
}

func stakeKey(pool, user common.Address) []byte {
	buf := make([]byte, 0, len(stakePrefix)+2*common.AddressLength)
	buf = append(buf, stakePrefix...)
	buf = append(buf, pool.Bytes()...)
	return append(buf, user.Bytes()...)
}
