// Package cart реализует корзину покупателя и хранилище корзин по сессиям.
package cart

import (
	"sync"

	"github.com/mmeshcher/storefront-system/internal/model"
)

// Cart содержит позиции корзины одного покупателя.
// Позиция с нулевым количеством в корзине не хранится: уменьшение
// количества до нуля удаляет позицию целиком.
type Cart struct {
	mu       sync.Mutex
	lines    []model.CartLine
	shipping *model.ShippingInfo
}

// AddLine добавляет товар в корзину: существующая позиция увеличивается
// на единицу, отсутствующая добавляется с количеством 1.
func (c *Cart) AddLine(p model.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.lines {
		if c.lines[i].ProductID == p.ID {
			c.lines[i].Quantity++
			return
		}
	}

	c.lines = append(c.lines, model.CartLine{
		ProductID:  p.ID,
		Name:       p.Name,
		PriceCents: p.PriceCents,
		Quantity:   1,
	})
}

// RemoveLine уменьшает количество товара на единицу и удаляет позицию,
// когда количество достигает нуля. Для отсутствующего товара — no-op.
func (c *Cart) RemoveLine(productID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.lines {
		if c.lines[i].ProductID != productID {
			continue
		}
		c.lines[i].Quantity--
		if c.lines[i].Quantity <= 0 {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
		}
		return
	}
}

// TotalCount возвращает суммарное количество товаров в корзине.
func (c *Cart) TotalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, l := range c.lines {
		count += l.Quantity
	}
	return count
}

// TotalPriceCents возвращает стоимость всех позиций корзины в центах.
func (c *Cart) TotalPriceCents() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total int64
	for _, l := range c.lines {
		total += l.PriceCents * int64(l.Quantity)
	}
	return total
}

// Lines возвращает копию позиций корзины.
func (c *Cart) Lines() []model.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines := make([]model.CartLine, len(c.lines))
	copy(lines, c.lines)
	return lines
}

// SetShipping сохраняет последний проверенный адрес доставки
// для предзаполнения формы при повторной попытке оформления.
func (c *Cart) SetShipping(info model.ShippingInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shipping = &info
}

// Shipping возвращает сохранённый адрес доставки, если он есть.
func (c *Cart) Shipping() *model.ShippingInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shipping == nil {
		return nil
	}
	info := *c.shipping
	return &info
}

// Clear очищает корзину вместе с сохранённым адресом доставки.
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
	c.shipping = nil
}

// Store хранит корзины активных сессий по идентификатору пользователя.
// Корзина живёт до успешного оформления заказа или явной очистки.
type Store struct {
	mu    sync.Mutex
	carts map[int64]*Cart
}

// NewStore создаёт пустое хранилище корзин.
func NewStore() *Store {
	return &Store{carts: make(map[int64]*Cart)}
}

// Get возвращает корзину пользователя, создавая её при первом обращении.
func (s *Store) Get(userID int64) *Cart {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[userID]
	if !ok {
		c = &Cart{}
		s.carts[userID] = c
	}
	return c
}

// Clear уничтожает корзину пользователя.
func (s *Store) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID)
}
