package lending

import "github.com/ethereum/go-ethereum/common"

var (
	poolPrefix    = []byte("lending/pool/")
	poolIndexKey  = []byte("lending/pool/index")
	userPrefix    = []byte("lending/user/")
	oracleKindKey = []byte("lending/oracle/kind")
)

func poolKey(asset common.Address) []byte {
	buf := make([]byte, 0, len(poolPrefix)+common.AddressLength)
	buf = append(buf, poolPrefix...)
	return append(buf, asset.Bytes()...)
}

func userKey(asset, user common.Address) []byte {
	buf := make([]byte, 0, len(userPrefix)+2*common.AddressLength)
	buf = append(buf, userPrefix...)
	buf = append(buf, asset.Bytes()...)
	return append(buf, user.Bytes()...)
}
