package domain

import "strconv"

// OrderBook representa el libro de órdenes de un outcome token.
type OrderBook struct {
	TokenID string
	Bids    []BookEntry // ordenados mayor a menor precio
	Asks    []BookEntry // ordenados menor a mayor precio
}

// BookEntry es un nivel de precio en el orderbook.
type BookEntry struct {
	Price float64
	Size  float64
}

// BestBid devuelve el mejor precio de compra (mayor bid).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk devuelve el mejor precio de venta (menor ask).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// Midpoint devuelve el punto medio entre best bid y best ask.
func (ob OrderBook) Midpoint() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Spread devuelve el spread del book (ask - bid).
func (ob OrderBook) Spread() float64 {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return ask - bid
}

// SpreadPct returns the spread relative to the best ask, in [0, 1].
// Used by the spread guard: a wide book means the mid is unreliable.
func (ob OrderBook) SpreadPct() float64 {
	ask := ob.BestAsk()
	if ask == 0 {
		return 0
	}
	return ob.Spread() / ask
}

// AskDepthUSD returns the USD value (size × price) of ask levels within
// `window` of the best ask. window=0.05 gives the 5-cent depth the
// liquidity cap is based on.
func (ob OrderBook) AskDepthUSD(window float64) float64 {
	ask := ob.BestAsk()
	if ask == 0 {
		return 0
	}
	var total float64
	for _, a := range ob.Asks {
		if a.Price-ask <= window {
			total += a.Size * a.Price
		}
	}
	return total
}

// EstimateImpact walks the ask side for a buy of sizeUSD and returns the
// resulting average fill price. Returns best ask if the book is empty or
// the size does not consume the first level.
func (ob OrderBook) EstimateImpact(sizeUSD float64) float64 {
	best := ob.BestAsk()
	if best == 0 || sizeUSD <= 0 {
		return best
	}
	remaining := sizeUSD
	var cost, shares float64
	for _, a := range ob.Asks {
		levelUSD := a.Size * a.Price
		take := levelUSD
		if take > remaining {
			take = remaining
		}
		cost += take
		shares += take / a.Price
		remaining -= take
		if remaining <= 0 {
			break
		}
	}
	if shares == 0 {
		return best
	}
	return cost / shares
}

// ParsePrice convierte un string de precio a float64.
// Usado en el mapping de la API.
func ParsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
