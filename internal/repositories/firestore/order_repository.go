package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/atelierstore/api/internal/domain"
	pfirestore "github.com/atelierstore/api/internal/platform/firestore"
)

const ordersCollection = "orders"

type orderLineDocument struct {
	ProductID string `firestore:"productId"`
	SKU       string `firestore:"sku,omitempty"`
	Name      string `firestore:"name,omitempty"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
	Extended  int64  `firestore:"extended"`
	Discount  int64  `firestore:"discount,omitempty"`
}

type orderPromotionDocument struct {
	PromotionID string `firestore:"promotionId"`
	Code        string `firestore:"code"`
	Type        string `firestore:"type"`
	Discount    int64  `firestore:"discount"`
}

type orderPaymentDocument struct {
	Provider        string `firestore:"provider"`
	SessionID       string `firestore:"sessionId,omitempty"`
	PaymentIntentID string `firestore:"paymentIntentId,omitempty"`
	ReceiptEmail    string `firestore:"receiptEmail,omitempty"`
}

type orderDocument struct {
	Number        string                  `firestore:"number,omitempty"`
	UserID        string                  `firestore:"userId"`
	Status        string                  `firestore:"status"`
	Currency      string                  `firestore:"currency"`
	Subtotal      int64                   `firestore:"subtotal"`
	Discount      int64                   `firestore:"discount"`
	Shipping      int64                   `firestore:"shipping"`
	Tax           int64                   `firestore:"tax"`
	Total         int64                   `firestore:"total"`
	Items         []orderLineDocument     `firestore:"items"`
	Promotion     *orderPromotionDocument `firestore:"promotion,omitempty"`
	Payment       *orderPaymentDocument   `firestore:"payment,omitempty"`
	FailureReason string                  `firestore:"failureReason,omitempty"`
	CreatedAt     time.Time               `firestore:"createdAt"`
	UpdatedAt     time.Time               `firestore:"updatedAt"`
	PaidAt        *time.Time              `firestore:"paidAt,omitempty"`
	FulfilledAt   *time.Time              `firestore:"fulfilledAt,omitempty"`
	RefundedAt    *time.Time              `firestore:"refundedAt,omitempty"`
}

// OrderRepository implements repositories.OrderRepository backed by Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil)
	return &OrderRepository{
		provider: provider,
		orders:   base,
	}, nil
}

// Insert persists a new order document.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return pfirestore.WrapError("orders.insert", status.Error(codes.InvalidArgument, "order id is required"))
	}
	ref, err := r.orders.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeOrder(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Get fetches an order document by its identifier.
func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// Transition applies a guarded status change inside a transaction. The mutate
// callback sees the current order with the target timestamps not yet set and
// is responsible for assigning the new status.
func (r *OrderRepository) Transition(ctx context.Context, orderID string, from []domain.OrderStatus, mutate func(*domain.Order) error) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if mutate == nil {
		return domain.Order{}, errors.New("order transition requires a mutate function")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, pfirestore.WrapError("orders.transition", status.Error(codes.InvalidArgument, "order id is required"))
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("orders.transition", err)
		}
		var doc orderDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", id, err)
		}

		order := decodeOrder(id, doc)
		if len(from) > 0 && !statusIn(order.Status, from) {
			return pfirestore.WrapError("orders.transition",
				status.Errorf(codes.FailedPrecondition, "order %s is %s, expected one of %s", id, order.Status, statusList(from)))
		}

		if err := mutate(&order); err != nil {
			return err
		}
		updated = order
		return tx.Set(ref, encodeOrder(order))
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

func statusIn(current domain.OrderStatus, set []domain.OrderStatus) bool {
	for _, s := range set {
		if s == current {
			return true
		}
	}
	return false
}

func statusList(set []domain.OrderStatus) string {
	parts := make([]string, 0, len(set))
	for _, s := range set {
		parts = append(parts, string(s))
	}
	return strings.Join(parts, "|")
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		Number:        order.Number,
		UserID:        order.UserID,
		Status:        string(order.Status),
		Currency:      strings.ToLower(strings.TrimSpace(order.Currency)),
		Subtotal:      order.Subtotal,
		Discount:      order.Discount,
		Shipping:      order.Shipping,
		Tax:           order.Tax,
		Total:         order.Total,
		FailureReason: order.FailureReason,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
		PaidAt:        normalizeTimePtr(order.PaidAt),
		FulfilledAt:   normalizeTimePtr(order.FulfilledAt),
		RefundedAt:    normalizeTimePtr(order.RefundedAt),
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderLineDocument{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Extended:  item.Extended,
			Discount:  item.Discount,
		})
	}
	if order.Promotion != nil {
		doc.Promotion = &orderPromotionDocument{
			PromotionID: order.Promotion.PromotionID,
			Code:        order.Promotion.Code,
			Type:        string(order.Promotion.Type),
			Discount:    order.Promotion.Discount,
		}
	}
	if order.PaymentRef != nil {
		doc.Payment = &orderPaymentDocument{
			Provider:        order.PaymentRef.Provider,
			SessionID:       order.PaymentRef.SessionID,
			PaymentIntentID: order.PaymentRef.PaymentIntentID,
			ReceiptEmail:    order.PaymentRef.ReceiptEmail,
		}
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:            id,
		Number:        doc.Number,
		UserID:        doc.UserID,
		Status:        domain.OrderStatus(doc.Status),
		Currency:      doc.Currency,
		Subtotal:      doc.Subtotal,
		Discount:      doc.Discount,
		Shipping:      doc.Shipping,
		Tax:           doc.Tax,
		Total:         doc.Total,
		FailureReason: doc.FailureReason,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
		PaidAt:        doc.PaidAt,
		FulfilledAt:   doc.FulfilledAt,
		RefundedAt:    doc.RefundedAt,
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.PricedLineItem{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Extended:  item.Extended,
			Discount:  item.Discount,
		})
	}
	if doc.Promotion != nil {
		order.Promotion = &domain.AppliedPromotion{
			PromotionID: doc.Promotion.PromotionID,
			Code:        doc.Promotion.Code,
			Type:        domain.PromotionType(doc.Promotion.Type),
			Discount:    doc.Promotion.Discount,
		}
	}
	if doc.Payment != nil {
		order.PaymentRef = &domain.PaymentReference{
			Provider:        doc.Payment.Provider,
			SessionID:       doc.Payment.SessionID,
			PaymentIntentID: doc.Payment.PaymentIntentID,
			ReceiptEmail:    doc.Payment.ReceiptEmail,
		}
	}
	return order
}
