package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/numbermarket/internal/marketplace/application"
	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
	"github.com/wyfcoding/numbermarket/internal/marketplace/infrastructure/lock"
	"github.com/wyfcoding/numbermarket/internal/marketplace/infrastructure/notifier"
	"github.com/wyfcoding/numbermarket/internal/marketplace/infrastructure/persistence/memory"
)

type testServer struct {
	t      *testing.T
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := memory.NewStore()
	mp := application.NewMarketplace(application.Dependencies{
		Repos:  store.Repositories(),
		Tx:     store,
		Locker: lock.NewMemoryLocker(),
		Rules:  domain.DefaultRules(),
	}, notifier.NewLogNotifier(nil))
	r := gin.New()
	NewMarketplaceHandler(mp).RegisterRoutes(r)
	return &testServer{t: t, router: r}
}

// do 发送请求，account 为空时不带身份头
func (s *testServer) do(method, path, account string, admin bool, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set(AccountHeader, account)
	}
	if admin {
		req.Header.Set(RoleHeader, RoleAdmin)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) expect(w *httptest.ResponseRecorder, code int, out any) {
	s.t.Helper()
	if w.Code != code {
		s.t.Fatalf("expected %d, got %d: %s", code, w.Code, w.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			s.t.Fatalf("decode %s: %v", w.Body.String(), err)
		}
	}
}

const api = "/api/v1/marketplace"

func (s *testServer) openFunded(id, amount string) {
	s.t.Helper()
	s.expect(s.do(http.MethodPost, api+"/accounts", "", false, gin.H{"account_id": id}), http.StatusCreated, nil)
	if amount != "" {
		s.expect(s.do(http.MethodPost, api+"/admin/accounts/"+id+"/top-ups", "ops", true,
			gin.H{"amount": amount, "reference": "gw-" + id}), http.StatusOK, nil)
	}
}

func TestFixedSaleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.openFunded("seller", "")
	s.openFunded("buyer", "1000")

	var listing application.ListingDTO
	s.expect(s.do(http.MethodPost, api+"/listings", "seller", false, gin.H{
		"number": "+989121112233", "base_price": "600", "sale_mode": "fixed", "line_type": "active",
	}), http.StatusCreated, &listing)

	var order application.OrderDTO
	s.expect(s.do(http.MethodPost, api+"/listings/"+listing.ListingID+"/buy", "buyer", false, nil), http.StatusCreated, &order)

	// outsiders cannot see the order
	s.expect(s.do(http.MethodGet, api+"/orders/"+order.OrderID, "stranger", false, nil), http.StatusNotFound, nil)
	s.expect(s.do(http.MethodGet, api+"/orders/"+order.OrderID, "seller", false, nil), http.StatusOK, nil)

	s.expect(s.do(http.MethodPost, api+"/orders/"+order.OrderID+"/document", "seller", false,
		gin.H{"document_ref": "s3://docs/1"}), http.StatusOK, nil)
	s.expect(s.do(http.MethodPost, api+"/admin/orders/"+order.OrderID+"/approve-document", "seller", false, nil), http.StatusForbidden, nil)
	s.expect(s.do(http.MethodPost, api+"/admin/orders/"+order.OrderID+"/approve-document", "ops", true, nil), http.StatusOK, &order)
	if order.Status != "completed" || order.SellerNetAmount != "588.00" {
		t.Fatalf("unexpected order %+v", order)
	}

	var acc application.AccountDTO
	s.expect(s.do(http.MethodGet, api+"/accounts/me", "seller", false, nil), http.StatusOK, &acc)
	if acc.WalletBalance != "588.00" {
		t.Fatalf("seller wallet %s", acc.WalletBalance)
	}
	var page application.LedgerPage
	s.expect(s.do(http.MethodGet, api+"/accounts/me/ledger?limit=10", "buyer", false, nil), http.StatusOK, &page)
	if page.Total != 3 {
		t.Fatalf("expected top-up, reserve, settlement debit; got %d entries", page.Total)
	}

	var settled application.SettlementResult
	s.expect(s.do(http.MethodPost, api+"/admin/orders/"+order.OrderID+"/settle", "ops", true, nil), http.StatusOK, &settled)
	if !settled.AlreadySettled {
		t.Fatalf("second settlement should be a no-op")
	}
}

func TestErrorStatusMapping(t *testing.T) {
	s := newTestServer(t)
	s.openFunded("seller", "")
	s.openFunded("poor", "10")

	s.expect(s.do(http.MethodGet, api+"/accounts/me", "", false, nil), http.StatusUnauthorized, nil)
	s.expect(s.do(http.MethodGet, api+"/listings/missing", "poor", false, nil), http.StatusNotFound, nil)

	var listing application.ListingDTO
	s.expect(s.do(http.MethodPost, api+"/listings", "seller", false, gin.H{
		"number": "+989120000001", "base_price": "1000", "sale_mode": "auction", "line_type": "inactive",
		"end_time": time.Now().Add(time.Hour).Unix(),
	}), http.StatusCreated, &listing)

	bids := api + "/listings/" + listing.ListingID + "/bids"
	s.expect(s.do(http.MethodPost, bids, "poor", false, gin.H{"amount": "1100"}), http.StatusPaymentRequired, nil)
	s.expect(s.do(http.MethodPost, bids, "seller", false, gin.H{"amount": "1100"}), http.StatusBadRequest, nil)
	s.expect(s.do(http.MethodPost, api+"/listings/"+listing.ListingID+"/buy", "poor", false, nil), http.StatusConflict, nil)
	s.expect(s.do(http.MethodPost, api+"/admin/auctions/"+listing.Auction.AuctionID+"/resolve", "ops", true, nil), http.StatusConflict, nil)
	s.expect(s.do(http.MethodPost, bids, "poor", false, gin.H{"amount": "not-a-number"}), http.StatusBadRequest, nil)
}

func TestEscrowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.openFunded("seller", "")
	s.openFunded("buyer", "500")

	var listing application.ListingDTO
	s.expect(s.do(http.MethodPost, api+"/listings", "seller", false, gin.H{
		"number": "+989120000002", "base_price": "450", "sale_mode": "inquiry", "line_type": "inactive",
	}), http.StatusCreated, &listing)

	var p application.EscrowDTO
	s.expect(s.do(http.MethodPost, api+"/escrows", "buyer", false, gin.H{"listing_id": listing.ListingID, "amount": "400"}), http.StatusCreated, &p)
	s.expect(s.do(http.MethodGet, api+"/escrows/"+p.Code, "seller", false, nil), http.StatusOK, nil)

	var order application.OrderDTO
	s.expect(s.do(http.MethodPost, api+"/escrows/"+p.Code+"/withdraw", "seller", false, nil), http.StatusCreated, &order)
	s.expect(s.do(http.MethodPost, api+"/escrows/"+p.Code+"/cancel", "buyer", false, nil), http.StatusConflict, nil)

	s.expect(s.do(http.MethodPost, api+"/orders/"+order.OrderID+"/activation-code", "seller", false, gin.H{"code": "246810"}), http.StatusOK, nil)
	s.expect(s.do(http.MethodPost, api+"/orders/"+order.OrderID+"/verify", "buyer", false, gin.H{"code": "000000"}), http.StatusBadRequest, nil)
	s.expect(s.do(http.MethodPost, api+"/orders/"+order.OrderID+"/verify", "buyer", false, gin.H{"code": "246810"}), http.StatusOK, &order)
	if order.Status != "completed" {
		t.Fatalf("order not settled: %+v", order)
	}
	var acc application.AccountDTO
	s.expect(s.do(http.MethodGet, api+"/accounts/me", "buyer", false, nil), http.StatusOK, &acc)
	if acc.WalletBalance != "100.00" || acc.BlockedBalance != "0.00" {
		t.Fatalf("unexpected buyer balances %+v", acc)
	}
}

func TestBidGuardsRunBeforeBidding(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := memory.NewStore()
	mp := application.NewMarketplace(application.Dependencies{
		Repos: store.Repositories(), Tx: store, Locker: lock.NewMemoryLocker(),
	}, notifier.NewLogNotifier(nil))
	calls := 0
	guard := func(c *gin.Context) {
		calls++
		c.AbortWithStatus(http.StatusTooManyRequests)
	}
	r := gin.New()
	NewMarketplaceHandler(mp, guard).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("%s/listings/%s/bids", api, "L1"), bytes.NewBufferString(`{"amount":"1"}`))
	req.Header.Set(AccountHeader, "a")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests || calls != 1 {
		t.Fatalf("guard not applied: %d calls=%d", w.Code, calls)
	}
}

func TestRelistOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.openFunded("seller", "")

	var listing application.ListingDTO
	s.expect(s.do(http.MethodPost, api+"/listings", "seller", false, gin.H{
		"number": "+989121112244", "base_price": "1000", "sale_mode": "auction", "line_type": "active",
		"end_time": time.Now().Add(time.Hour).Unix(),
	}), http.StatusCreated, &listing)

	path := api + "/listings/" + listing.ListingID + "/relist"
	s.expect(s.do(http.MethodPost, path, "seller", false, gin.H{}), http.StatusBadRequest, nil)
	s.expect(s.do(http.MethodPost, path, "seller", false,
		gin.H{"end_time": time.Now().Add(2 * time.Hour).Unix()}), http.StatusConflict, nil)
	s.expect(s.do(http.MethodPost, path, "someone", false,
		gin.H{"end_time": time.Now().Add(2 * time.Hour).Unix()}), http.StatusBadRequest, nil)
}
