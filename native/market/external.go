package market

import "math/big"

// AssetRegistry is the external ownership and custody service for uniquely
// identified assets. The market never takes custody itself; it relies on a
// standing approval recorded in the registry and orders the transfer at the
// moment of sale.
type AssetRegistry interface {
	OwnerOf(collection [20]byte, assetID *big.Int) ([20]byte, error)
	IsApprovedForAll(collection, owner, operator [20]byte) (bool, error)
	TransferFrom(collection, from, to [20]byte, assetID *big.Int) error
}

// PaymentSender pushes native value to an address. A failed send must abort
// the invoking operation before any engine state has been mutated.
type PaymentSender interface {
	Send(to [20]byte, amount *big.Int) error
}
