package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/storefront-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса витрины.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/cart", h.GetCart)
			r.Post("/cart/items", h.AddCartItem)
			r.Delete("/cart/items/{productID}", h.RemoveCartItem)

			r.Post("/orders", h.SubmitOrder)
			r.Get("/orders/mine", h.GetMyOrders)
			r.Get("/orders/{id}", h.GetOrder)

			r.Put("/orders/{id}/pay", h.PayOrder)
			r.Post("/orders/{id}/pay/manual", h.PayOrderManual)
			r.Post("/orders/{id}/checkout", h.CreateCheckout)
			r.Post("/orders/{id}/pay/confirm", h.ConfirmPayment)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.RequireAdmin)

				r.Get("/admin/orders", h.ListAllOrders)
				r.Put("/admin/orders/{id}/deliver", h.MarkDelivered)

				r.Post("/admin/products", h.CreateProduct)
				r.Put("/admin/products/{id}", h.UpdateProduct)
				r.Delete("/admin/products/{id}", h.DeleteProduct)

				r.Get("/admin/users", h.ListUsers)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
