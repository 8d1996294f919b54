package polymarket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/courtbot/internal/adapters/polymarket"
)

func newTestClient(clobSrv, gammaSrv *httptest.Server) *polymarket.Client {
	clobURL := ""
	gammaURL := ""
	if clobSrv != nil {
		clobURL = clobSrv.URL
	}
	if gammaSrv != nil {
		gammaURL = gammaSrv.URL
	}
	return polymarket.NewClient(clobURL, gammaURL)
}

const booksFixture = `[
	{
		"asset_id": "token_home",
		"bids": [
			{"price": "0.68", "size": "120"},
			{"price": "0.70", "size": "300"}
		],
		"asks": [
			{"price": "0.74", "size": "50"},
			{"price": "0.72", "size": "200"}
		]
	}
]`

func TestGetOrderBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/books", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(booksFixture))
	}))
	defer srv.Close()

	client := newTestClient(srv, nil)
	book, err := client.GetOrderBook(context.Background(), "token_home")
	require.NoError(t, err)

	// Bids ordenados mayor a menor, asks menor a mayor.
	require.Len(t, book.Bids, 2)
	assert.InDelta(t, 0.70, book.Bids[0].Price, 0.001)
	require.Len(t, book.Asks, 2)
	assert.InDelta(t, 0.72, book.Asks[0].Price, 0.001)

	assert.InDelta(t, 0.70, book.BestBid(), 0.001)
	assert.InDelta(t, 0.72, book.BestAsk(), 0.001)
	assert.InDelta(t, 0.71, book.Midpoint(), 0.001)
}

func TestGetOrderBookUnknownToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := newTestClient(srv, nil)
	book, err := client.GetOrderBook(context.Background(), "token_missing")
	require.NoError(t, err)
	assert.Empty(t, book.Bids)
	assert.Empty(t, book.Asks)
	assert.Equal(t, 0.0, book.BestAsk())
}

func TestGetPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(booksFixture))
	}))
	defer srv.Close()

	client := newTestClient(srv, nil)
	quote, err := client.GetPrice(context.Background(), "token_home")
	require.NoError(t, err)
	assert.InDelta(t, 0.70, quote.BestBid, 0.001)
	assert.InDelta(t, 0.72, quote.BestAsk, 0.001)
	assert.InDelta(t, 0.71, quote.Mid, 0.001)
}

func TestGetOrderBookServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv, nil)
	_, err := client.GetOrderBook(context.Background(), "token_home")
	assert.Error(t, err)
}
