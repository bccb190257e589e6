package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-system/internal/middleware"
	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/payment"
	"github.com/mmeshcher/storefront-system/internal/service"
)

type stubService struct {
	registerUser *model.User
	registerErr  error

	authUser *model.User
	authErr  error

	users    []model.User
	usersErr error

	products        []model.Product
	productCategory string
	product         *model.Product
	productErr      error

	cartLines    []model.CartLine
	cartShipping *model.ShippingInfo
	addToCartErr error

	submitOrderResp   *model.Order
	submitOrderErr    error
	submitOrderMethod string

	order    *model.Order
	orderErr error

	receiptResp *model.Order
	receiptErr  error
	receiptGot  model.PaymentReceipt

	checkoutSession *payment.CheckoutSession
	checkoutErr     error

	confirmResp *model.Order
	confirmErr  error

	deliveredResp *model.Order
	deliveredErr  error

	myOrders  []model.Order
	allOrders []model.Order
}

func (s *stubService) RegisterUser(ctx context.Context, login, password string) (*model.User, error) {
	return s.registerUser, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	return s.authUser, s.authErr
}

func (s *stubService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.users, s.usersErr
}

func (s *stubService) ListProducts(ctx context.Context, category string) ([]model.Product, error) {
	s.productCategory = category
	return s.products, nil
}

func (s *stubService) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	return s.product, s.productErr
}

func (s *stubService) CreateProduct(ctx context.Context, p model.Product) (*model.Product, error) {
	created := p
	created.ID = 1
	created.CreatedAt = time.Now()
	return &created, nil
}

func (s *stubService) UpdateProduct(ctx context.Context, p model.Product) (*model.Product, error) {
	updated := p
	return &updated, s.productErr
}

func (s *stubService) DeleteProduct(ctx context.Context, id int64) error {
	return s.productErr
}

func (s *stubService) AddToCart(ctx context.Context, userID, productID int64) error {
	return s.addToCartErr
}

func (s *stubService) RemoveFromCart(userID, productID int64) {}

func (s *stubService) GetCart(userID int64) ([]model.CartLine, *model.ShippingInfo) {
	return s.cartLines, s.cartShipping
}

func (s *stubService) SubmitOrder(ctx context.Context, userID int64, shipping model.ShippingInfo, paymentMethod string) (*model.Order, error) {
	s.submitOrderMethod = paymentMethod
	return s.submitOrderResp, s.submitOrderErr
}

func (s *stubService) GetOrder(ctx context.Context, userID int64, isAdmin bool, orderID string) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubService) SubmitReceipt(ctx context.Context, userID int64, orderID string, receipt model.PaymentReceipt) (*model.Order, error) {
	s.receiptGot = receipt
	return s.receiptResp, s.receiptErr
}

func (s *stubService) CreateCheckout(ctx context.Context, userID int64, orderID string) (*payment.CheckoutSession, error) {
	return s.checkoutSession, s.checkoutErr
}

func (s *stubService) ConfirmCheckout(ctx context.Context, userID int64, orderID, sessionID string) (*model.Order, error) {
	return s.confirmResp, s.confirmErr
}

func (s *stubService) MarkDelivered(ctx context.Context, orderID string) (*model.Order, error) {
	return s.deliveredResp, s.deliveredErr
}

func (s *stubService) ListMyOrders(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.myOrders, nil
}

func (s *stubService) ListAllOrders(ctx context.Context) ([]model.Order, error) {
	return s.allOrders, nil
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

func doRequest(h *Handler, method, target string, body any, userID int64, isAdmin bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, target, &buf)
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+h.authMiddleware.IssueToken(userID, isAdmin))
	}

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec
}

func testOrder() *model.Order {
	return &model.Order{
		ID:     "11111111-2222-3333-4444-555555555555",
		UserID: 1,
		Lines: []model.OrderLine{
			{ProductID: 1, Name: "Mug", PriceCents: 2200, Quantity: 2},
		},
		Shipping: model.ShippingInfo{
			Name:       "Homer Simpson",
			Address:    "742 Evergreen Terrace",
			City:       "Springfield",
			PostalCode: "49007",
			Country:    "USA",
		},
		PaymentMethod: "paypal",
		TotalCents:    5900,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestRegister_ReturnsToken(t *testing.T) {
	svc := &stubService{
		registerUser: &model.User{ID: 42, Login: "user"},
	}
	h := newTestHandler(t, svc)

	rec := doRequest(h, http.MethodPost, "/api/user/register", credentialsRequest{Login: "user", Password: "pass"}, 0, false)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp authResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" {
		t.Fatalf("expected token in response")
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("expected auth cookie")
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &stubService{
		authErr: service.ErrInvalidCredentials,
	}
	h := newTestHandler(t, svc)

	rec := doRequest(h, http.MethodPost, "/api/user/login", credentialsRequest{Login: "user", Password: "wrong"}, 0, false)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestListProducts_JSONPrices(t *testing.T) {
	svc := &stubService{
		products: []model.Product{{ID: 1, Name: "Mug", PriceCents: 2250, Category: "kitchen", CountInStock: 3}},
	}
	h := newTestHandler(t, svc)

	rec := doRequest(h, http.MethodGet, "/api/products", nil, 0, false)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var resp []productResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].Price != 22.50 {
		t.Fatalf("unexpected products: %+v", resp)
	}
	if resp[0].Category != "kitchen" || resp[0].CountInStock != 3 {
		t.Fatalf("product card fields lost: %+v", resp[0])
	}
}

func TestListProducts_CategoryFilter(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	rec := doRequest(h, http.MethodGet, "/api/products?category=kitchen", nil, 0, false)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.productCategory != "kitchen" {
		t.Fatalf("category filter = %q, want kitchen", svc.productCategory)
	}
}

func TestAddCartItem_OutOfStock(t *testing.T) {
	svc := &stubService{addToCartErr: service.ErrOutOfStock}
	h := newTestHandler(t, svc)

	rec := doRequest(h, http.MethodPost, "/api/cart/items", addCartItemRequest{ProductID: 1}, 1, false)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestCart_RequiresAuth(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := doRequest(h, http.MethodGet, "/api/cart", nil, 0, false)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestSubmitOrder_ShippingValidation(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body := submitOrderRequest{
		Shipping: model.ShippingInfo{
			Name:       "Homer Simpson",
			Address:    "742 Evergreen Terrace",
			City:       "Springfield",
			PostalCode: "not-a-zip",
			Country:    "USA",
		},
	}
	rec := doRequest(h, http.MethodPost, "/api/orders", body, 1, false)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}

	var resp validationErrorsResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Field != "postalCode" {
		t.Fatalf("unexpected validation errors: %+v", resp.Errors)
	}
}

func TestSubmitOrder_EmptyCartConflict(t *testing.T) {
	svc := &stubService{submitOrderErr: service.ErrEmptyCart}
	h := newTestHandler(t, svc)

	body := submitOrderRequest{Shipping: testOrder().Shipping}
	rec := doRequest(h, http.MethodPost, "/api/orders", body, 1, false)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestSubmitOrder_CardMasked(t *testing.T) {
	svc := &stubService{submitOrderResp: testOrder()}
	h := newTestHandler(t, svc)

	body := submitOrderRequest{
		Shipping:      testOrder().Shipping,
		PaymentMethod: "card",
		Card: &cardRequest{
			Number: "4539 5787 6362 1486",
			Expiry: "12/27",
			CVV:    "123",
		},
	}
	rec := doRequest(h, http.MethodPost, "/api/orders", body, 1, false)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	if svc.submitOrderMethod != "card **** 1486" {
		t.Fatalf("payment method = %q, want masked card", svc.submitOrderMethod)
	}
}

func TestSubmitOrder_CardRejected(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body := submitOrderRequest{
		Shipping:      testOrder().Shipping,
		PaymentMethod: "card",
		Card: &cardRequest{
			Number: "4539 5787 6362 1487",
			Expiry: "13/27",
			CVV:    "12",
		},
	}
	rec := doRequest(h, http.MethodPost, "/api/orders", body, 1, false)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}

	var resp validationErrorsResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Errors) != 3 {
		t.Fatalf("expected 3 card errors, got %+v", resp.Errors)
	}
}

func TestPayOrder_ForwardsReceipt(t *testing.T) {
	paid := testOrder()
	now := time.Now().UTC()
	paid.IsPaid = true
	paid.PaidAt = &now
	svc := &stubService{receiptResp: paid}
	h := newTestHandler(t, svc)

	body := receiptRequest{
		ID:           "TXN123",
		Status:       "COMPLETED",
		UpdateTime:   now.Format(time.RFC3339),
		EmailAddress: "buyer@example.com",
	}
	rec := doRequest(h, http.MethodPut, "/api/orders/"+paid.ID+"/pay", body, 1, false)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.receiptGot.TransactionID != "TXN123" || svc.receiptGot.Status != "COMPLETED" {
		t.Fatalf("service received receipt %+v", svc.receiptGot)
	}
	if svc.receiptGot.SettledAt.IsZero() {
		t.Fatalf("update_time must be parsed into the receipt")
	}
}

func TestPayOrder_InvalidReceipt(t *testing.T) {
	svc := &stubService{receiptErr: service.ErrInvalidReceipt}
	h := newTestHandler(t, svc)

	rec := doRequest(h, http.MethodPut, "/api/orders/abc/pay", receiptRequest{}, 1, false)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestPayOrder_InFlightConflict(t *testing.T) {
	svc := &stubService{receiptErr: service.ErrPaymentInFlight}
	h := newTestHandler(t, svc)

	body := receiptRequest{ID: "TXN1", Status: "COMPLETED"}
	rec := doRequest(h, http.MethodPut, "/api/orders/abc/pay", body, 1, false)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestPayOrderManual_Validation(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body := manualPaymentRequest{
		TransactionID: "",
		Email:         "not-an-email",
		Amount:        -10,
	}
	rec := doRequest(h, http.MethodPost, "/api/orders/abc/pay/manual", body, 1, false)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}

	var resp validationErrorsResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Errors) != 3 {
		t.Fatalf("expected 3 validation errors, got %+v", resp.Errors)
	}
}

func TestPayOrderManual_SynthesizesReceipt(t *testing.T) {
	paid := testOrder()
	paid.IsPaid = true
	svc := &stubService{receiptResp: paid}
	h := newTestHandler(t, svc)

	body := manualPaymentRequest{
		TransactionID: "TXN-MANUAL",
		Email:         "buyer@example.com",
		Amount:        59.00,
	}
	rec := doRequest(h, http.MethodPost, "/api/orders/"+paid.ID+"/pay/manual", body, 1, false)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.receiptGot.Status != "COMPLETED" {
		t.Fatalf("manual receipt status = %q, want COMPLETED", svc.receiptGot.Status)
	}
	if svc.receiptGot.AmountCents != 5900 {
		t.Fatalf("manual receipt amount = %d, want 5900", svc.receiptGot.AmountCents)
	}
}

func TestPayOrderManual_AmountOptional(t *testing.T) {
	paid := testOrder()
	paid.IsPaid = true
	svc := &stubService{receiptResp: paid}
	h := newTestHandler(t, svc)

	body := manualPaymentRequest{
		TransactionID: "TXN-MANUAL",
		Email:         "buyer@example.com",
	}
	rec := doRequest(h, http.MethodPost, "/api/orders/"+paid.ID+"/pay/manual", body, 1, false)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.receiptGot.AmountCents != 0 {
		t.Fatalf("absent amount must stay unset, got %d", svc.receiptGot.AmountCents)
	}
}

func TestConfirmPayment_RequiresSession(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := doRequest(h, http.MethodPost, "/api/orders/abc/pay/confirm", confirmPaymentRequest{}, 1, false)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestConfirmPayment_AmountMismatch(t *testing.T) {
	svc := &stubService{confirmErr: service.ErrAmountMismatch}
	h := newTestHandler(t, svc)

	body := confirmPaymentRequest{SessionID: "SESSION1"}
	rec := doRequest(h, http.MethodPost, "/api/orders/abc/pay/confirm", body, 1, false)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestConfirmPayment_Cancelled(t *testing.T) {
	svc := &stubService{confirmErr: payment.ErrCancelled}
	h := newTestHandler(t, svc)

	body := confirmPaymentRequest{SessionID: "SESSION1"}
	rec := doRequest(h, http.MethodPost, "/api/orders/abc/pay/confirm", body, 1, false)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestGetOrder_Foreign(t *testing.T) {
	svc := &stubService{orderErr: service.ErrAccessDenied}
	h := newTestHandler(t, svc)

	rec := doRequest(h, http.MethodGet, "/api/orders/abc", nil, 1, false)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestAdminRoutes_RequireAdmin(t *testing.T) {
	svc := &stubService{allOrders: []model.Order{*testOrder()}}
	h := newTestHandler(t, svc)

	rec := doRequest(h, http.MethodGet, "/api/admin/orders", nil, 1, false)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("user status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	rec = doRequest(h, http.MethodGet, "/api/admin/orders", nil, 1, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestMarkDelivered_Response(t *testing.T) {
	delivered := testOrder()
	now := time.Now().UTC()
	delivered.IsPaid = true
	delivered.IsDelivered = true
	delivered.DeliveredAt = &now
	svc := &stubService{deliveredResp: delivered}
	h := newTestHandler(t, svc)

	rec := doRequest(h, http.MethodPut, "/api/admin/orders/"+delivered.ID+"/deliver", nil, 1, true)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp orderResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.IsDelivered || resp.DeliveredAt == "" {
		t.Fatalf("unexpected order response: %+v", resp)
	}
}
