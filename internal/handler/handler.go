// Package handler содержит HTTP-обработчики API сервиса витрины.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-system/internal/middleware"
	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/payment"
	"github.com/mmeshcher/storefront-system/internal/repository"
	"github.com/mmeshcher/storefront-system/internal/service"
	"github.com/mmeshcher/storefront-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (*model.User, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)

	ListProducts(ctx context.Context, category string) ([]model.Product, error)
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	CreateProduct(ctx context.Context, p model.Product) (*model.Product, error)
	UpdateProduct(ctx context.Context, p model.Product) (*model.Product, error)
	DeleteProduct(ctx context.Context, id int64) error

	AddToCart(ctx context.Context, userID, productID int64) error
	RemoveFromCart(userID, productID int64)
	GetCart(userID int64) ([]model.CartLine, *model.ShippingInfo)

	SubmitOrder(ctx context.Context, userID int64, shipping model.ShippingInfo, paymentMethod string) (*model.Order, error)
	GetOrder(ctx context.Context, userID int64, isAdmin bool, orderID string) (*model.Order, error)
	SubmitReceipt(ctx context.Context, userID int64, orderID string, receipt model.PaymentReceipt) (*model.Order, error)
	CreateCheckout(ctx context.Context, userID int64, orderID string) (*payment.CheckoutSession, error)
	ConfirmCheckout(ctx context.Context, userID int64, orderID, sessionID string) (*model.Order, error)
	MarkDelivered(ctx context.Context, orderID string) (*model.Order, error)
	ListMyOrders(ctx context.Context, userID int64) ([]model.Order, error)
	ListAllOrders(ctx context.Context) ([]model.Order, error)
}

// Handler реализует HTTP-обработчики API сервиса витрины.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

func cents(v int64) float64 {
	return float64(v) / 100
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type authResponse struct {
	Token   string `json:"token"`
	Login   string `json:"login"`
	IsAdmin bool   `json:"isAdmin"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeAuth(w, user)
}

// Login выполняет аутентификацию пользователя.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeAuth(w, user)
}

func (h *Handler) writeAuth(w http.ResponseWriter, user *model.User) {
	h.authMiddleware.SetAuthCookie(w, user.ID, user.IsAdmin)

	resp := authResponse{
		Token:   h.authMiddleware.IssueToken(user.ID, user.IsAdmin),
		Login:   user.Login,
		IsAdmin: user.IsAdmin,
	}
	writeJSON(w, h.logger, resp)
}

type productResponse struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	Image        string  `json:"image,omitempty"`
	Category     string  `json:"category,omitempty"`
	Brand        string  `json:"brand,omitempty"`
	Description  string  `json:"description,omitempty"`
	Rating       float64 `json:"rating"`
	CountInStock int     `json:"countInStock"`
}

func toProductResponse(p model.Product) productResponse {
	return productResponse{
		ID:           p.ID,
		Name:         p.Name,
		Price:        cents(p.PriceCents),
		Image:        p.Image,
		Category:     p.Category,
		Brand:        p.Brand,
		Description:  p.Description,
		Rating:       p.Rating,
		CountInStock: p.CountInStock,
	}
}

// ListProducts возвращает каталог товаров; параметр category
// ограничивает выдачу одной категорией.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.logger.Error("list products error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]productResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, toProductResponse(p))
	}

	writeJSON(w, h.logger, resp)
}

// GetProduct возвращает товар каталога по идентификатору.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get product error", zap.Error(err), zap.Int64("productID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, toProductResponse(*product))
}

type productRequest struct {
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	Image        string  `json:"image"`
	Category     string  `json:"category"`
	Brand        string  `json:"brand"`
	Description  string  `json:"description"`
	Rating       float64 `json:"rating"`
	CountInStock int     `json:"countInStock"`
}

func (req productRequest) toProduct(id int64) model.Product {
	return model.Product{
		ID:           id,
		Name:         req.Name,
		PriceCents:   int64(req.Price * 100),
		Image:        req.Image,
		Category:     req.Category,
		Brand:        req.Brand,
		Description:  req.Description,
		Rating:       req.Rating,
		CountInStock: req.CountInStock,
	}
}

// CreateProduct добавляет товар в каталог.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Price <= 0 || req.CountInStock < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	product, err := h.service.CreateProduct(r.Context(), req.toProduct(0))
	if err != nil {
		h.logger.Error("create product error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toProductResponse(*product)); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// UpdateProduct обновляет товар каталога.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Price <= 0 || req.CountInStock < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	product, err := h.service.UpdateProduct(r.Context(), req.toProduct(id))
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("update product error", zap.Error(err), zap.Int64("productID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, toProductResponse(*product))
}

// DeleteProduct удаляет товар каталога.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteProduct(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("delete product error", zap.Error(err), zap.Int64("productID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type cartLineResponse struct {
	ProductID int64   `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

type cartResponse struct {
	Items      []cartLineResponse  `json:"items"`
	TotalCount int                 `json:"totalCount"`
	TotalPrice float64             `json:"totalPrice"`
	Shipping   *model.ShippingInfo `json:"shipping,omitempty"`
}

func (h *Handler) cartResponse(userID int64) cartResponse {
	lines, shipping := h.service.GetCart(userID)

	resp := cartResponse{Items: make([]cartLineResponse, 0, len(lines)), Shipping: shipping}
	for _, line := range lines {
		resp.Items = append(resp.Items, cartLineResponse{
			ProductID: line.ProductID,
			Name:      line.Name,
			Price:     cents(line.PriceCents),
			Quantity:  line.Quantity,
		})
		resp.TotalCount += line.Quantity
		resp.TotalPrice += cents(line.PriceCents) * float64(line.Quantity)
	}
	return resp
}

// GetCart возвращает корзину текущего пользователя.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	writeJSON(w, h.logger, h.cartResponse(userID))
}

type addCartItemRequest struct {
	ProductID int64 `json:"productId"`
}

// AddCartItem добавляет товар в корзину текущего пользователя.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req addCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.AddToCart(r.Context(), userID, req.ProductID); err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		if errors.Is(err, service.ErrOutOfStock) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("add to cart error", zap.Error(err), zap.Int64("userID", userID), zap.Int64("productID", req.ProductID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, h.cartResponse(userID))
}

// RemoveCartItem уменьшает количество товара в корзине на единицу.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.service.RemoveFromCart(userID, productID)

	writeJSON(w, h.logger, h.cartResponse(userID))
}

type cardRequest struct {
	Number string `json:"number"`
	Expiry string `json:"expiry"`
	CVV    string `json:"cvv"`
}

type submitOrderRequest struct {
	Shipping      model.ShippingInfo `json:"shipping"`
	PaymentMethod string             `json:"paymentMethod"`
	Card          *cardRequest       `json:"card,omitempty"`
}

type validationErrorsResponse struct {
	Errors []validation.FieldError `json:"errors"`
}

// SubmitOrder оформляет заказ по текущей корзине пользователя.
func (h *Handler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req submitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if fieldErrs := validation.ValidateShipping(req.Shipping); len(fieldErrs) > 0 {
		writeValidationErrors(w, h.logger, fieldErrs)
		return
	}

	paymentMethod := req.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = "paypal"
	}

	// Реквизиты карты проверяются локально и в заказе не сохраняются,
	// кроме маскированного хвоста номера.
	if paymentMethod == "card" {
		fieldErrs := validateCard(req.Card)
		if len(fieldErrs) > 0 {
			writeValidationErrors(w, h.logger, fieldErrs)
			return
		}
		paymentMethod = "card **** " + lastDigits(req.Card.Number, 4)
	}

	order, err := h.service.SubmitOrder(r.Context(), userID, req.Shipping, paymentMethod)
	if err != nil {
		if errors.Is(err, service.ErrEmptyCart) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("submit order error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toOrderResponse(*order)); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func validateCard(card *cardRequest) []validation.FieldError {
	if card == nil {
		return []validation.FieldError{{Field: "card", Error: "card details are required"}}
	}

	var errs []validation.FieldError
	if !validation.IsValidCardNumber(card.Number) {
		errs = append(errs, validation.FieldError{Field: "card.number", Error: "invalid card number"})
	}
	if !validation.IsValidCardExpiry(card.Expiry) {
		errs = append(errs, validation.FieldError{Field: "card.expiry", Error: "invalid expiry date"})
	}
	if !validation.IsValidCardCVV(card.CVV) {
		errs = append(errs, validation.FieldError{Field: "card.cvv", Error: "invalid security code"})
	}
	return errs
}

func lastDigits(number string, n int) string {
	var digits []rune
	for _, r := range number {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) < n {
		return string(digits)
	}
	return string(digits[len(digits)-n:])
}

type orderLineResponse struct {
	ProductID int64   `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

type receiptResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	UpdateTime   string `json:"update_time"`
	EmailAddress string `json:"email_address,omitempty"`
}

type orderResponse struct {
	ID            string              `json:"id"`
	UserLogin     string              `json:"userLogin,omitempty"`
	Items         []orderLineResponse `json:"items"`
	Shipping      model.ShippingInfo  `json:"shipping"`
	PaymentMethod string              `json:"paymentMethod"`
	TotalPrice    float64             `json:"totalPrice"`
	IsPaid        bool                `json:"isPaid"`
	PaidAt        string              `json:"paidAt,omitempty"`
	PaymentResult *receiptResponse    `json:"paymentResult,omitempty"`
	IsDelivered   bool                `json:"isDelivered"`
	DeliveredAt   string              `json:"deliveredAt,omitempty"`
	CreatedAt     string              `json:"createdAt"`
}

func toOrderResponse(o model.Order) orderResponse {
	resp := orderResponse{
		ID:            o.ID,
		UserLogin:     o.UserLogin,
		Items:         make([]orderLineResponse, 0, len(o.Lines)),
		Shipping:      o.Shipping,
		PaymentMethod: o.PaymentMethod,
		TotalPrice:    cents(o.TotalCents),
		IsPaid:        o.IsPaid,
		IsDelivered:   o.IsDelivered,
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
	}
	for _, line := range o.Lines {
		resp.Items = append(resp.Items, orderLineResponse{
			ProductID: line.ProductID,
			Name:      line.Name,
			Price:     cents(line.PriceCents),
			Quantity:  line.Quantity,
		})
	}
	if o.PaidAt != nil {
		resp.PaidAt = o.PaidAt.Format(time.RFC3339)
	}
	if o.DeliveredAt != nil {
		resp.DeliveredAt = o.DeliveredAt.Format(time.RFC3339)
	}
	if o.PaymentResult != nil {
		resp.PaymentResult = &receiptResponse{
			ID:           o.PaymentResult.TransactionID,
			Status:       o.PaymentResult.Status,
			UpdateTime:   o.PaymentResult.SettledAt.Format(time.RFC3339),
			EmailAddress: o.PaymentResult.PayerEmail,
		}
	}
	return resp
}

// GetOrder возвращает заказ. Не-администратор видит только собственные заказы.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	isAdmin, _ := middleware.GetIsAdminFromContext(r.Context())

	order, err := h.service.GetOrder(r.Context(), userID, isAdmin, chi.URLParam(r, "id"))
	if err != nil {
		h.writeOrderError(w, err, "get order")
		return
	}

	writeJSON(w, h.logger, toOrderResponse(*order))
}

// GetMyOrders возвращает заказы текущего пользователя, новые первыми.
func (h *Handler) GetMyOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.ListMyOrders(r.Context(), userID)
	if err != nil {
		h.logger.Error("list my orders error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeOrderList(w, h.logger, orders)
}

type receiptRequest struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	UpdateTime   string `json:"update_time"`
	EmailAddress string `json:"email_address"`
}

// PayOrder подтверждает оплату заказа подтверждением провайдера,
// полученным клиентом от платёжной кнопки.
func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req receiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	receipt := model.PaymentReceipt{
		TransactionID: req.ID,
		Status:        req.Status,
		PayerEmail:    req.EmailAddress,
	}
	if req.UpdateTime != "" {
		if settled, err := time.Parse(time.RFC3339, req.UpdateTime); err == nil {
			receipt.SettledAt = settled
		}
	}

	order, err := h.service.SubmitReceipt(r.Context(), userID, chi.URLParam(r, "id"), receipt)
	if err != nil {
		h.writeOrderError(w, err, "pay order")
		return
	}

	writeJSON(w, h.logger, toOrderResponse(*order))
}

type manualPaymentRequest struct {
	TransactionID string  `json:"transactionId"`
	Email         string  `json:"email"`
	Amount        float64 `json:"amount"`
}

// PayOrderManual подтверждает оплату по реквизитам, введённым оператором
// после ручной сверки с кабинетом провайдера.
func (h *Handler) PayOrderManual(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req manualPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var fieldErrs []validation.FieldError
	if req.TransactionID == "" {
		fieldErrs = append(fieldErrs, validation.FieldError{Field: "transactionId", Error: "transaction id is required"})
	}
	if !validation.IsValidEmail(req.Email) {
		fieldErrs = append(fieldErrs, validation.FieldError{Field: "email", Error: "invalid email address"})
	}
	// Сумма при ручной сверке необязательна, но указанная обязана
	// быть положительной; сверка с суммой заказа выполняется в сервисе.
	if req.Amount < 0 {
		fieldErrs = append(fieldErrs, validation.FieldError{Field: "amount", Error: "amount must be positive"})
	}
	if len(fieldErrs) > 0 {
		writeValidationErrors(w, h.logger, fieldErrs)
		return
	}

	receipt := model.PaymentReceipt{
		TransactionID: req.TransactionID,
		Status:        "COMPLETED",
		PayerEmail:    req.Email,
		AmountCents:   int64(req.Amount * 100),
	}

	order, err := h.service.SubmitReceipt(r.Context(), userID, chi.URLParam(r, "id"), receipt)
	if err != nil {
		h.writeOrderError(w, err, "pay order manual")
		return
	}

	writeJSON(w, h.logger, toOrderResponse(*order))
}

type checkoutResponse struct {
	SessionID  string `json:"sessionId"`
	ApproveURL string `json:"approveUrl"`
}

// CreateCheckout создаёт у провайдера сессию оплаты заказа и возвращает
// ссылку для подтверждения покупателем.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	session, err := h.service.CreateCheckout(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeOrderError(w, err, "create checkout")
		return
	}

	writeJSON(w, h.logger, checkoutResponse{SessionID: session.ID, ApproveURL: session.ApproveURL})
}

type confirmPaymentRequest struct {
	SessionID string `json:"sessionId"`
}

// ConfirmPayment завершает redirect-сценарий оплаты после возврата
// покупателя от провайдера.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req confirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.SessionID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.ConfirmCheckout(r.Context(), userID, chi.URLParam(r, "id"), req.SessionID)
	if err != nil {
		h.writeOrderError(w, err, "confirm payment")
		return
	}

	writeJSON(w, h.logger, toOrderResponse(*order))
}

// ListAllOrders возвращает все заказы магазина.
func (h *Handler) ListAllOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListAllOrders(r.Context())
	if err != nil {
		h.logger.Error("list all orders error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeOrderList(w, h.logger, orders)
}

// MarkDelivered отмечает заказ доставленным.
func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.MarkDelivered(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeOrderError(w, err, "mark delivered")
		return
	}

	writeJSON(w, h.logger, toOrderResponse(*order))
}

type userResponse struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	IsAdmin   bool   `json:"isAdmin"`
	CreatedAt string `json:"createdAt"`
}

// ListUsers возвращает всех пользователей магазина.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("list users error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, userResponse{
			ID:        u.ID,
			Login:     u.Login,
			IsAdmin:   u.IsAdmin,
			CreatedAt: u.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, h.logger, resp)
}

// writeOrderError переводит ошибки заказа и оплаты в HTTP-статусы.
func (h *Handler) writeOrderError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, service.ErrAccessDenied):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, service.ErrInvalidReceipt), errors.Is(err, service.ErrAmountMismatch):
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrPaymentInFlight),
		errors.Is(err, service.ErrOrderAlreadyPaid),
		errors.Is(err, repository.ErrTransactionUsed),
		errors.Is(err, payment.ErrCancelled):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, service.ErrProviderUnavailable):
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	case errors.Is(err, payment.ErrProvider):
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
	default:
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeOrderList(w http.ResponseWriter, logger *zap.Logger, orders []model.Order) {
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}
	writeJSON(w, logger, resp)
}

func writeValidationErrors(w http.ResponseWriter, logger *zap.Logger, fieldErrs []validation.FieldError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	if err := json.NewEncoder(w).Encode(validationErrorsResponse{Errors: fieldErrs}); err != nil {
		logger.Error("encode response error", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response error", zap.Error(err))
	}
}
