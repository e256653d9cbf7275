package tron

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of protocol.Transaction and friends (core/Tron.proto).
const (
	txRawField       protowire.Number = 1
	txSignatureField protowire.Number = 2

	rawExpirationField protowire.Number = 8
	rawContractField   protowire.Number = 11

	contractTypeField      protowire.Number = 1
	contractParameterField protowire.Number = 2
	anyValueField          protowire.Number = 2

	transferOwnerField  protowire.Number = 1
	transferToField     protowire.Number = 2
	transferAmountField protowire.Number = 3

	transferContractType = 1
)

// transfer is the single TransferContract of a raw transaction.
type transfer struct {
	Owner      []byte
	To         []byte
	Amount     int64
	Expiration int64
}

// walk calls fn for every top level field of msg.
func walk(msg []byte, fn func(num protowire.Number, typ protowire.Type, val []byte, varint uint64) error) error {
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return protowire.ParseError(n)
		}
		msg = msg[n:]

		var (
			val    []byte
			varint uint64
		)
		switch typ {
		case protowire.VarintType:
			varint, n = protowire.ConsumeVarint(msg)
		case protowire.BytesType:
			val, n = protowire.ConsumeBytes(msg)
		default:
			n = protowire.ConsumeFieldValue(num, typ, msg)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		msg = msg[n:]
		if err := fn(num, typ, val, varint); err != nil {
			return err
		}
	}
	return nil
}

// parseTransfer decodes Transaction.raw and requires exactly one
// TransferContract.
func parseTransfer(raw []byte) (transfer, error) {
	var (
		t         transfer
		contracts int
	)
	err := walk(raw, func(num protowire.Number, typ protowire.Type, val []byte, varint uint64) error {
		switch {
		case num == rawExpirationField && typ == protowire.VarintType:
			t.Expiration = int64(varint)
		case num == rawContractField && typ == protowire.BytesType:
			contracts++
			return parseContract(val, &t)
		}
		return nil
	})
	if err != nil {
		return transfer{}, err
	}
	if contracts != 1 {
		return transfer{}, fmt.Errorf("expected one contract, found %d", contracts)
	}
	return t, nil
}

func parseContract(b []byte, t *transfer) error {
	var (
		kind  uint64
		param []byte
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, val []byte, varint uint64) error {
		switch {
		case num == contractTypeField && typ == protowire.VarintType:
			kind = varint
		case num == contractParameterField && typ == protowire.BytesType:
			param = val
		}
		return nil
	})
	if err != nil {
		return err
	}
	if kind != transferContractType {
		return fmt.Errorf("contract type %d is not TransferContract", kind)
	}

	// google.protobuf.Any
	var value []byte
	err = walk(param, func(num protowire.Number, typ protowire.Type, val []byte, _ uint64) error {
		if num == anyValueField && typ == protowire.BytesType {
			value = val
		}
		return nil
	})
	if err != nil {
		return err
	}
	return walk(value, func(num protowire.Number, typ protowire.Type, val []byte, varint uint64) error {
		switch {
		case num == transferOwnerField && typ == protowire.BytesType:
			t.Owner = append([]byte(nil), val...)
		case num == transferToField && typ == protowire.BytesType:
			t.To = append([]byte(nil), val...)
		case num == transferAmountField && typ == protowire.VarintType:
			t.Amount = int64(varint)
		}
		return nil
	})
}

// encodeSigned serialises a Transaction{raw, signature...}.
func encodeSigned(raw []byte, sigs [][]byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, txRawField, protowire.BytesType)
	b = protowire.AppendBytes(b, raw)
	for _, s := range sigs {
		b = protowire.AppendTag(b, txSignatureField, protowire.BytesType)
		b = protowire.AppendBytes(b, s)
	}
	return b
}

// decodeSigned splits a serialised Transaction into raw and signatures.
func decodeSigned(b []byte) ([]byte, [][]byte, error) {
	var (
		raw  []byte
		sigs [][]byte
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, val []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case txRawField:
			raw = val
		case txSignatureField:
			sigs = append(sigs, val)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if raw == nil {
		return nil, nil, fmt.Errorf("transaction has no raw data")
	}
	return raw, sigs, nil
}
