// Package payment предоставляет клиент платёжного провайдера.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

var (
	// ErrCancelled возвращается, когда покупатель отменил оплату на стороне провайдера.
	ErrCancelled = errors.New("payment cancelled by payer")
	// ErrProvider возвращается при сбое обмена с платёжным провайдером.
	ErrProvider = errors.New("payment provider request failed")
)

// Client инкапсулирует HTTP-взаимодействие с платёжным провайдером.
// Учётные данные приходят из конфигурации развёртывания, значений
// по умолчанию в коде нет.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// CheckoutItem описывает позицию заказа в запросе на создание сессии оплаты.
type CheckoutItem struct {
	Name            string
	UnitAmountCents int64
	Quantity        int
	SKU             string
}

// CheckoutSession описывает созданную у провайдера сессию оплаты.
type CheckoutSession struct {
	ID         string
	ApproveURL string
}

// CaptureResult описывает результат списания средств у провайдера.
type CaptureResult struct {
	TransactionID string
	Status        string
	AmountCents   int64
	Currency      string
	SettledAt     time.Time
	PayerEmail    string
}

// NewClient создаёт HTTP-клиент провайдера с ограниченным таймаутом:
// зависший запрос на списание трактуется как временная ошибка, а не как успех.
func NewClient(baseURL, clientID, clientSecret string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   rc.StandardClient(),
	}
}

type amountPayload struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
}

type itemPayload struct {
	Name       string        `json:"name"`
	UnitAmount amountPayload `json:"unit_amount"`
	Quantity   string        `json:"quantity"`
	SKU        string        `json:"sku,omitempty"`
}

type purchaseUnitPayload struct {
	Amount struct {
		amountPayload
		Breakdown struct {
			ItemTotal amountPayload `json:"item_total"`
			Shipping  amountPayload `json:"shipping"`
			TaxTotal  amountPayload `json:"tax_total"`
		} `json:"breakdown"`
	} `json:"amount"`
	Items []itemPayload `json:"items"`
}

type checkoutResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

type captureResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	UpdateTime string `json:"update_time"`
	Payer      struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string        `json:"id"`
				Status string        `json:"status"`
				Amount amountPayload `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type errorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// CreateCheckout создаёт у провайдера сессию оплаты на сумму заказа,
// подтверждённую хранилищем. Разбивка — стоимость позиций, доставка, налог.
func (c *Client) CreateCheckout(ctx context.Context, currency string, items []CheckoutItem, shippingCents, taxCents int64) (*CheckoutSession, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("payment provider not configured")
	}

	var itemTotal int64
	unit := purchaseUnitPayload{}
	for _, it := range items {
		itemTotal += it.UnitAmountCents * int64(it.Quantity)
		unit.Items = append(unit.Items, itemPayload{
			Name:       it.Name,
			UnitAmount: amount(it.UnitAmountCents, currency),
			Quantity:   strconv.Itoa(it.Quantity),
			SKU:        it.SKU,
		})
	}
	unit.Amount.amountPayload = amount(itemTotal+shippingCents+taxCents, currency)
	unit.Amount.Breakdown.ItemTotal = amount(itemTotal, currency)
	unit.Amount.Breakdown.Shipping = amount(shippingCents, currency)
	unit.Amount.Breakdown.TaxTotal = amount(taxCents, currency)

	body := map[string]any{
		"intent":         "CAPTURE",
		"purchase_units": []purchaseUnitPayload{unit},
	}

	var resp checkoutResponse
	if err := c.post(ctx, "/v2/checkout/orders", body, &resp); err != nil {
		return nil, err
	}

	session := &CheckoutSession{ID: resp.ID}
	for _, link := range resp.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			session.ApproveURL = link.Href
		}
	}

	if session.ID == "" {
		return nil, fmt.Errorf("provider returned checkout session without id")
	}

	return session, nil
}

// Capture выполняет списание по указанной сессии оплаты и возвращает
// подтверждение с идентификатором транзакции. Отмена со стороны
// покупателя возвращается как ErrCancelled, а не как успех.
func (c *Client) Capture(ctx context.Context, sessionID string) (*CaptureResult, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("payment provider not configured")
	}
	if sessionID == "" {
		return nil, fmt.Errorf("checkout session id is empty")
	}

	var resp captureResponse
	if err := c.post(ctx, "/v2/checkout/orders/"+sessionID+"/capture", struct{}{}, &resp); err != nil {
		return nil, err
	}

	switch resp.Status {
	case "CANCELLED", "VOIDED":
		return nil, ErrCancelled
	}

	result := &CaptureResult{
		TransactionID: resp.ID,
		Status:        resp.Status,
		PayerEmail:    resp.Payer.EmailAddress,
		SettledAt:     time.Now().UTC(),
	}

	if resp.UpdateTime != "" {
		if settled, err := time.Parse(time.RFC3339, resp.UpdateTime); err == nil {
			result.SettledAt = settled
		}
	}

	// Идентификатор и сумма конкретного списания точнее, чем данные сессии.
	for _, pu := range resp.PurchaseUnits {
		for _, capture := range pu.Payments.Captures {
			if capture.ID != "" {
				result.TransactionID = capture.ID
			}
			if capture.Status != "" {
				result.Status = capture.Status
			}
			cents, err := parseAmountCents(capture.Amount.Value)
			if err == nil {
				result.AmountCents = cents
				result.Currency = capture.Amount.CurrencyCode
			}
		}
	}

	return result, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.clientID != "" {
		req.SetBasicAuth(c.clientID, c.clientSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var provErr errorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&provErr); decodeErr == nil && provErr.Message != "" {
			return fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, provErr.Message)
		}
		return fmt.Errorf("%w: unexpected status %d", ErrProvider, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func amount(cents int64, currency string) amountPayload {
	return amountPayload{
		Value:        fmt.Sprintf("%d.%02d", cents/100, cents%100),
		CurrencyCode: currency,
	}
}

func parseAmountCents(value string) (int64, error) {
	if value == "" {
		return 0, fmt.Errorf("empty amount")
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount: %w", err)
	}
	return int64(math.Round(f * 100)), nil
}
