package market

import "math/big"

// paymentSplit carries the three-way division of a sale payment. Fee and
// royalty are computed from the agreed price; the seller share is the paid
// value minus both, so an overpaying buyer donates the excess to the seller
// and any truncation remainder stays in the seller share.
type paymentSplit struct {
	Fee     *big.Int
	Royalty *big.Int
	Seller  *big.Int
}

func splitPayment(price, paid *big.Int, feePct, royaltyPct uint32) (paymentSplit, error) {
	if price == nil || price.Sign() <= 0 {
		return paymentSplit{}, ErrInvalidPrice
	}
	if paid == nil || paid.Cmp(price) < 0 {
		return paymentSplit{}, ErrInsufficientPayment
	}
	fee := percentOf(price, feePct)
	royalty := percentOf(price, royaltyPct)
	seller := new(big.Int).Sub(paid, fee)
	seller.Sub(seller, royalty)
	if seller.Sign() < 0 {
		return paymentSplit{}, ErrSellerShareNegative
	}
	return paymentSplit{Fee: fee, Royalty: royalty, Seller: seller}, nil
}

// percentOf computes amount*pct/100 with truncating integer division.
func percentOf(amount *big.Int, pct uint32) *big.Int {
	if amount == nil || pct == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, big.NewInt(int64(pct)))
	return out.Div(out, big.NewInt(100))
}
