package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	meddler.Default = meddler.SQLite
	meddler.Register("address", hexMeddler[common.Address]{parse: common.HexToAddress, format: AddressKey})
	meddler.Register("hash", hexMeddler[common.Hash]{parse: common.HexToHash, format: common.Hash.Hex})
}

// AddressKey is the canonical column value of an address. Queries that filter on an
// address column must use it so lookups match regardless of checksum casing.
func AddressKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// hexMeddler converts between a fixed-size hex value (address, hash) and its
// textual column representation. NULL maps to the zero value or a nil pointer.
type hexMeddler[T any] struct {
	parse  func(string) T
	format func(T) string
}

func (m hexMeddler[T]) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (m hexMeddler[T]) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	switch ptr := fieldAddr.(type) {
	case **T:
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		v := m.parse(ns.String)
		*ptr = &v
	case *T:
		if !ns.Valid {
			var zero T
			*ptr = zero
			return nil
		}
		*ptr = m.parse(ns.String)
	default:
		var zero T
		return fmt.Errorf("expected *%T or **%T, got %T", zero, zero, fieldAddr)
	}

	return nil
}

func (m hexMeddler[T]) PreWrite(field interface{}) (saveValue interface{}, err error) {
	switch v := field.(type) {
	case *T:
		if v == nil {
			return nil, nil
		}
		return m.format(*v), nil
	case T:
		return m.format(v), nil
	default:
		var zero T
		return nil, fmt.Errorf("expected %T or *%T, got %T", zero, zero, field)
	}
}
