// Package service реализует бизнес-логику сервиса витрины:
// корзину, оформление заказа, сверку оплаты и отметку доставки.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mmeshcher/storefront-system/internal/cart"
	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/payment"
	"github.com/mmeshcher/storefront-system/internal/repository"
)

var (
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmptyCart возвращается при попытке оформить заказ с пустой корзиной.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrAccessDenied возвращается при обращении к чужому заказу.
	ErrAccessDenied = errors.New("order belongs to another user")
	// ErrInvalidReceipt возвращается для подтверждения оплаты без
	// идентификатора транзакции или статуса. Такое подтверждение
	// в хранилище не отправляется.
	ErrInvalidReceipt = errors.New("payment receipt is missing required fields")
	// ErrPaymentInFlight возвращается при параллельной попытке оплаты того же заказа.
	ErrPaymentInFlight = errors.New("payment attempt already in progress")
	// ErrAmountMismatch возвращается, когда списанная провайдером сумма
	// не совпадает с суммой заказа, подтверждённой хранилищем.
	ErrAmountMismatch = errors.New("captured amount does not match order total")
	// ErrOrderAlreadyPaid возвращается при попытке создать сессию оплаты
	// для уже оплаченного заказа.
	ErrOrderAlreadyPaid = errors.New("order is already paid")
	// ErrOutOfStock возвращается при попытке положить в корзину товар,
	// которого нет в наличии.
	ErrOutOfStock = errors.New("product is out of stock")
	// ErrProviderUnavailable возвращается, когда платёжный провайдер не сконфигурирован.
	ErrProviderUnavailable = errors.New("payment provider is not configured")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte, isAdmin bool) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	CreateProduct(ctx context.Context, p model.Product) (*model.Product, error)
	UpdateProduct(ctx context.Context, p model.Product) (*model.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	ListProducts(ctx context.Context, category string) ([]model.Product, error)
	CreateOrder(ctx context.Context, userID int64, lines []model.OrderLine, shipping model.ShippingInfo, paymentMethod string, totalCents int64) (*model.Order, error)
	GetOrderByID(ctx context.Context, orderID string) (*model.Order, error)
	MarkOrderPaid(ctx context.Context, orderID string, receipt model.PaymentReceipt) (*model.Order, bool, error)
	MarkOrderDelivered(ctx context.Context, orderID string) (*model.Order, bool, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	ListAllOrders(ctx context.Context) ([]model.Order, error)
}

// PaymentProvider описывает контракт платёжного провайдера.
type PaymentProvider interface {
	CreateCheckout(ctx context.Context, currency string, items []payment.CheckoutItem, shippingCents, taxCents int64) (*payment.CheckoutSession, error)
	Capture(ctx context.Context, sessionID string) (*payment.CaptureResult, error)
}

// Service содержит бизнес-логику сервиса витрины.
type Service struct {
	repo     Repository
	provider PaymentProvider
	carts    *cart.Store

	currency         string
	shippingFeeCents int64
	taxFeeCents      int64

	// Незавершённые попытки оплаты по заказам: одна попытка на заказ.
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewService создаёт новый сервис с указанным репозиторием и платёжным провайдером.
func NewService(repo Repository, provider PaymentProvider, currency string, shippingFeeCents, taxFeeCents int64) *Service {
	return &Service{
		repo:             repo,
		provider:         provider,
		carts:            cart.NewStore(),
		currency:         currency,
		shippingFeeCents: shippingFeeCents,
		taxFeeCents:      taxFeeCents,
		inflight:         make(map[string]struct{}),
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (*model.User, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed, false)
	if err != nil {
		return nil, err
	}
	return &model.User{ID: id, Login: login}, nil
}

// EnsureAdmin создаёт учётную запись администратора, если пользователя
// с таким логином ещё нет. Существующая запись не изменяется.
func (s *Service) EnsureAdmin(ctx context.Context, login, password string) error {
	hashed := hashPassword(login, password)
	_, err := s.repo.CreateUser(ctx, login, hashed, true)
	if errors.Is(err, repository.ErrUserExists) {
		return nil
	}
	return err
}

// AuthenticateUser проверяет логин и пароль пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// ListUsers возвращает всех пользователей (административная операция).
func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.repo.ListUsers(ctx)
}

// ListProducts возвращает каталог товаров, при непустой категории
// отфильтрованный по ней.
func (s *Service) ListProducts(ctx context.Context, category string) ([]model.Product, error) {
	return s.repo.ListProducts(ctx, category)
}

// GetProduct возвращает товар каталога.
func (s *Service) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// CreateProduct добавляет товар в каталог (административная операция).
func (s *Service) CreateProduct(ctx context.Context, p model.Product) (*model.Product, error) {
	return s.repo.CreateProduct(ctx, p)
}

// UpdateProduct обновляет товар каталога (административная операция).
func (s *Service) UpdateProduct(ctx context.Context, p model.Product) (*model.Product, error) {
	return s.repo.UpdateProduct(ctx, p)
}

// DeleteProduct удаляет товар каталога (административная операция).
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	return s.repo.DeleteProduct(ctx, id)
}

// AddToCart добавляет товар в корзину пользователя. Цена позиции
// берётся из каталога, а не из запроса; товар без остатка на складе
// в корзину не попадает.
func (s *Service) AddToCart(ctx context.Context, userID, productID int64) error {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if product.CountInStock <= 0 {
		return fmt.Errorf("%w: %s", ErrOutOfStock, product.Name)
	}
	s.carts.Get(userID).AddLine(*product)
	return nil
}

// RemoveFromCart уменьшает количество товара в корзине на единицу.
func (s *Service) RemoveFromCart(userID, productID int64) {
	s.carts.Get(userID).RemoveLine(productID)
}

// GetCart возвращает позиции корзины и сохранённый адрес доставки
// для предзаполнения формы.
func (s *Service) GetCart(userID int64) ([]model.CartLine, *model.ShippingInfo) {
	c := s.carts.Get(userID)
	return c.Lines(), c.Shipping()
}

// SubmitOrder оформляет заказ по текущей корзине: позиции денормализуются
// с ценами из каталога, сумма пересчитывается на сервере. Корзина
// очищается только после успешного сохранения заказа, поэтому при
// ошибке пользователь повторяет оформление без повторного ввода.
func (s *Service) SubmitOrder(ctx context.Context, userID int64, shipping model.ShippingInfo, paymentMethod string) (*model.Order, error) {
	c := s.carts.Get(userID)

	lines := c.Lines()
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	// Адрес сохраняется до попытки: при ошибке форма предзаполнится.
	c.SetShipping(shipping)

	var orderLines []model.OrderLine
	var subtotal int64
	for _, line := range lines {
		product, err := s.repo.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("resolve product %d: %w", line.ProductID, err)
		}
		orderLines = append(orderLines, model.OrderLine{
			ProductID:  product.ID,
			Name:       product.Name,
			PriceCents: product.PriceCents,
			Quantity:   line.Quantity,
		})
		subtotal += product.PriceCents * int64(line.Quantity)
	}

	total := subtotal + s.shippingFeeCents + s.taxFeeCents

	order, err := s.repo.CreateOrder(ctx, userID, orderLines, shipping, paymentMethod, total)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.carts.Clear(userID)

	return order, nil
}

// GetOrder возвращает заказ. Не-администратор видит только свои заказы.
func (s *Service) GetOrder(ctx context.Context, userID int64, isAdmin bool, orderID string) (*model.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && order.UserID != userID {
		return nil, ErrAccessDenied
	}
	return order, nil
}

// SubmitReceipt подтверждает оплату заказа готовым подтверждением провайдера
// (кнопка провайдера либо ручная сверка). Операция идемпотентна: повторное
// подтверждение уже оплаченного заказа возвращает его текущее состояние.
// Заказ никогда не помечается оплаченным без подтверждения хранилища.
func (s *Service) SubmitReceipt(ctx context.Context, userID int64, orderID string, receipt model.PaymentReceipt) (*model.Order, error) {
	if receipt.TransactionID == "" || receipt.Status == "" {
		return nil, ErrInvalidReceipt
	}
	if receipt.AmountCents < 0 {
		return nil, ErrInvalidReceipt
	}

	if !s.beginAttempt(orderID) {
		return nil, ErrPaymentInFlight
	}
	defer s.endAttempt(orderID)

	order, err := s.GetOrder(ctx, userID, false, orderID)
	if err != nil {
		return nil, err
	}

	if order.IsPaid {
		return order, nil
	}

	// Сумма в подтверждении необязательна, но переданная обязана
	// совпадать с суммой заказа, подтверждённой хранилищем.
	if receipt.AmountCents != 0 && receipt.AmountCents != order.TotalCents {
		return nil, fmt.Errorf("%w: receipt %d, order %d", ErrAmountMismatch, receipt.AmountCents, order.TotalCents)
	}

	if receipt.SettledAt.IsZero() {
		receipt.SettledAt = time.Now().UTC()
	}

	order, _, err = s.repo.MarkOrderPaid(ctx, orderID, receipt)
	if err != nil {
		return nil, fmt.Errorf("mark order paid: %w", err)
	}

	return order, nil
}

// CreateCheckout создаёт у провайдера сессию оплаты заказа. Сумма и разбивка
// берутся из заказа, подтверждённого хранилищем, а не из корзины клиента.
func (s *Service) CreateCheckout(ctx context.Context, userID int64, orderID string) (*payment.CheckoutSession, error) {
	if s.provider == nil {
		return nil, ErrProviderUnavailable
	}

	order, err := s.GetOrder(ctx, userID, false, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsPaid {
		return nil, ErrOrderAlreadyPaid
	}

	var items []payment.CheckoutItem
	var subtotal int64
	for _, line := range order.Lines {
		items = append(items, payment.CheckoutItem{
			Name:            line.Name,
			UnitAmountCents: line.PriceCents,
			Quantity:        line.Quantity,
			SKU:             strconv.FormatInt(line.ProductID, 10),
		})
		subtotal += line.PriceCents * int64(line.Quantity)
	}

	// Налог выводится из сохранённой суммы, чтобы разбивка всегда
	// сходилась с суммой заказа даже после смены конфигурации сборов.
	// Отрицательных компонентов провайдер не принимает.
	shipping := s.shippingFeeCents
	tax := order.TotalCents - subtotal - shipping
	if tax < 0 {
		shipping = order.TotalCents - subtotal
		tax = 0
	}
	if shipping < 0 {
		shipping = 0
	}

	session, err := s.provider.CreateCheckout(ctx, s.currency, items, shipping, tax)
	if err != nil {
		return nil, fmt.Errorf("create checkout: %w", err)
	}

	return session, nil
}

// ConfirmCheckout завершает redirect-сценарий: выполняет списание по сессии
// провайдера, сверяет списанную сумму с суммой заказа и отмечает заказ
// оплаченным. Для уже оплаченного заказа повторного списания не происходит.
func (s *Service) ConfirmCheckout(ctx context.Context, userID int64, orderID, sessionID string) (*model.Order, error) {
	if s.provider == nil {
		return nil, ErrProviderUnavailable
	}

	if !s.beginAttempt(orderID) {
		return nil, ErrPaymentInFlight
	}
	defer s.endAttempt(orderID)

	order, err := s.GetOrder(ctx, userID, false, orderID)
	if err != nil {
		return nil, err
	}

	if order.IsPaid {
		return order, nil
	}

	result, err := s.provider.Capture(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("capture payment: %w", err)
	}

	if result.TransactionID == "" || result.Status == "" {
		return nil, ErrInvalidReceipt
	}

	if result.AmountCents != 0 && result.AmountCents != order.TotalCents {
		return nil, fmt.Errorf("%w: captured %d, order %d", ErrAmountMismatch, result.AmountCents, order.TotalCents)
	}

	receipt := model.PaymentReceipt{
		TransactionID: result.TransactionID,
		Status:        result.Status,
		SettledAt:     result.SettledAt,
		PayerEmail:    result.PayerEmail,
		AmountCents:   result.AmountCents,
	}

	order, _, err = s.repo.MarkOrderPaid(ctx, orderID, receipt)
	if err != nil {
		return nil, fmt.Errorf("mark order paid: %w", err)
	}

	return order, nil
}

// MarkDelivered отмечает заказ доставленным независимо от состояния
// оплаты (административная операция: выдача возможна и по счёту).
// Повторный вызов — no-op с тем же результатом.
func (s *Service) MarkDelivered(ctx context.Context, orderID string) (*model.Order, error) {
	order, _, err := s.repo.MarkOrderDelivered(ctx, orderID)
	return order, err
}

// ListMyOrders возвращает заказы пользователя, новые первыми.
func (s *Service) ListMyOrders(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.ListOrdersByUser(ctx, userID)
}

// ListAllOrders возвращает все заказы (административная операция).
func (s *Service) ListAllOrders(ctx context.Context) ([]model.Order, error) {
	return s.repo.ListAllOrders(ctx)
}

func (s *Service) beginAttempt(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inflight[orderID]; ok {
		return false
	}
	s.inflight[orderID] = struct{}{}
	return true
}

func (s *Service) endAttempt(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, orderID)
}
