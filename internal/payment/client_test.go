package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateCheckout_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v2/checkout/orders" {
			t.Fatalf("path = %s, want /v2/checkout/orders", r.URL.Path)
		}

		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			t.Fatalf("basic auth = %q/%q/%v, want configured credentials", user, pass, ok)
		}

		var body struct {
			Intent        string `json:"intent"`
			PurchaseUnits []struct {
				Amount struct {
					Value     string `json:"value"`
					Breakdown struct {
						ItemTotal struct {
							Value string `json:"value"`
						} `json:"item_total"`
						Shipping struct {
							Value string `json:"value"`
						} `json:"shipping"`
						TaxTotal struct {
							Value string `json:"value"`
						} `json:"tax_total"`
					} `json:"breakdown"`
				} `json:"amount"`
			} `json:"purchase_units"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.Intent != "CAPTURE" {
			t.Fatalf("intent = %q, want CAPTURE", body.Intent)
		}
		amount := body.PurchaseUnits[0].Amount
		if amount.Value != "89.00" {
			t.Fatalf("total = %q, want 89.00", amount.Value)
		}
		if amount.Breakdown.ItemTotal.Value != "74.00" {
			t.Fatalf("item total = %q, want 74.00", amount.Breakdown.ItemTotal.Value)
		}
		if amount.Breakdown.Shipping.Value != "10.00" {
			t.Fatalf("shipping = %q, want 10.00", amount.Breakdown.Shipping.Value)
		}
		if amount.Breakdown.TaxTotal.Value != "5.00" {
			t.Fatalf("tax = %q, want 5.00", amount.Breakdown.TaxTotal.Value)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "CHK-1",
			"status": "CREATED",
			"links": []map[string]string{
				{"href": "https://provider.test/approve/CHK-1", "rel": "approve"},
			},
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "client-id", "client-secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	items := []CheckoutItem{
		{Name: "mug", UnitAmountCents: 2200, Quantity: 2, SKU: "1"},
		{Name: "shirt", UnitAmountCents: 3000, Quantity: 1, SKU: "2"},
	}

	session, err := client.CreateCheckout(ctx, "USD", items, 1000, 500)
	if err != nil {
		t.Fatalf("CreateCheckout error: %v", err)
	}
	if session.ID != "CHK-1" {
		t.Fatalf("session id = %q, want CHK-1", session.ID)
	}
	if session.ApproveURL != "https://provider.test/approve/CHK-1" {
		t.Fatalf("approve url = %q", session.ApproveURL)
	}
}

func TestCapture_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/checkout/orders/CHK-1/capture" {
			t.Fatalf("path = %s", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "CHK-1",
			"status":      "COMPLETED",
			"update_time": "2026-08-29T10:00:00Z",
			"payer":       map[string]string{"email_address": "buyer@example.com"},
			"purchase_units": []map[string]any{
				{
					"payments": map[string]any{
						"captures": []map[string]any{
							{
								"id":     "TXN123",
								"status": "COMPLETED",
								"amount": map[string]string{"value": "89.00", "currency_code": "USD"},
							},
						},
					},
				},
			},
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "client-id", "client-secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := client.Capture(ctx, "CHK-1")
	if err != nil {
		t.Fatalf("Capture error: %v", err)
	}
	if res.TransactionID != "TXN123" {
		t.Fatalf("transaction id = %q, want TXN123", res.TransactionID)
	}
	if res.Status != "COMPLETED" {
		t.Fatalf("status = %q, want COMPLETED", res.Status)
	}
	if res.AmountCents != 8900 {
		t.Fatalf("amount = %d, want 8900", res.AmountCents)
	}
	if res.PayerEmail != "buyer@example.com" {
		t.Fatalf("payer email = %q", res.PayerEmail)
	}
	if res.SettledAt.IsZero() {
		t.Fatalf("settled at must be set")
	}
}

func TestCapture_Cancelled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":     "CHK-2",
			"status": "CANCELLED",
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "client-id", "client-secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.Capture(ctx, "CHK-2")
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

func TestCapture_ProviderError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"name":    "UNPROCESSABLE_ENTITY",
			"message": "order already captured",
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "client-id", "client-secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.Capture(ctx, "CHK-3")
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("err = %v, want ErrProvider", err)
	}
}
