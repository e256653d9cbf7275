package ethereum

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

var erc20 abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(err)
	}
	erc20 = parsed
}

func packTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return erc20.Pack("transfer", to, amount)
}

// unpackTransfer decodes transfer(to, value) call data.
func unpackTransfer(data []byte) (common.Address, *big.Int, bool) {
	method := erc20.Methods["transfer"]
	if len(data) < 4 || string(data[:4]) != string(method.ID) {
		return common.Address{}, nil, false
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil || len(args) != 2 {
		return common.Address{}, nil, false
	}
	to, ok1 := args[0].(common.Address)
	value, ok2 := args[1].(*big.Int)
	return to, value, ok1 && ok2
}

func packBalanceOf(owner common.Address) ([]byte, error) {
	return erc20.Pack("balanceOf", owner)
}

func unpackBalanceOf(out []byte) (*big.Int, error) {
	vals, err := erc20.Unpack("balanceOf", out)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(vals[0], new(big.Int)).(*big.Int), nil
}
