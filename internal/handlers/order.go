// internal/handlers/order.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/javajoker/settlement-backend/internal/models"
	"github.com/javajoker/settlement-backend/internal/services"
	"github.com/javajoker/settlement-backend/internal/utils"
)

type OrderHandler struct {
	orderService   *services.OrderService
	paymentService *services.PaymentService
}

type TransitionRequest struct {
	Status models.OrderStatus `json:"status" validate:"required"`
	Notes  string             `json:"notes,omitempty" validate:"max=1000"`
}

type PaymentStatusRequest struct {
	Status       models.PaymentStatus `json:"status" validate:"required"`
	PaymentRef   string               `json:"payment_reference,omitempty" validate:"max=255"`
	RefundAmount *decimal.Decimal     `json:"refund_amount,omitempty" validate:"omitempty,money"`
}

func NewOrderHandler(orderService *services.OrderService, paymentService *services.PaymentService) *OrderHandler {
	return &OrderHandler{
		orderService:   orderService,
		paymentService: paymentService,
	}
}

// POST /orders
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req services.CreateOrderRequest
	if !bindAndValidate(c, &req) {
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), &req, utils.GetActorFromContext(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.CreatedResponse(c, order)
}

// GET /orders
func (h *OrderHandler) ListOrders(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	vendorID, ok := parseOptionalUUID(c, "vendor_id")
	if !ok {
		return
	}
	createdFrom, ok := parseOptionalDate(c, "created_from")
	if !ok {
		return
	}
	createdTo, ok := parseOptionalDate(c, "created_to")
	if !ok {
		return
	}

	filter := services.OrderFilter{
		Status:        models.OrderStatus(c.Query("status")),
		PaymentStatus: models.PaymentStatus(c.Query("payment_status")),
		VendorID:      vendorID,
		CustomerEmail: c.Query("customer_email"),
		CreatedFrom:   createdFrom,
		CreatedTo:     createdTo,
	}

	orders, total, err := h.orderService.ListOrders(c.Request.Context(), filter, params)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(orders, total, params))
}

// GET /orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, order)
}

// GET /orders/:id/history
func (h *OrderHandler) GetStatusHistory(c *gin.Context) {
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	history, err := h.orderService.GetStatusHistory(c.Request.Context(), orderID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, history)
}

// PUT /orders/:id/status
func (h *OrderHandler) TransitionStatus(c *gin.Context) {
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req TransitionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	history, err := h.orderService.TransitionStatus(c.Request.Context(), orderID, req.Status, utils.GetActorFromContext(c), req.Notes)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, history)
}

// PUT /orders/:id/payment-status
func (h *OrderHandler) UpdatePaymentStatus(c *gin.Context) {
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req PaymentStatusRequest
	if !bindAndValidate(c, &req) {
		return
	}

	actor := utils.GetActorFromContext(c)
	var (
		order *models.Order
		err   error
	)
	if req.RefundAmount != nil {
		order, err = h.orderService.RecordRefund(c.Request.Context(), orderID, *req.RefundAmount, req.Status, actor)
	} else {
		order, err = h.orderService.UpdatePaymentStatus(c.Request.Context(), orderID, req.Status, req.PaymentRef, actor)
	}
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, order)
}

// POST /orders/:id/payments/sync
func (h *OrderHandler) SyncPayment(c *gin.Context) {
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.SyncPaymentRequest
	if !bindAndValidate(c, &req) {
		return
	}

	order, err := h.paymentService.SyncPaymentIntent(c.Request.Context(), orderID, req.PaymentIntentID, utils.GetActorFromContext(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, order)
}

// POST /orders/:id/refund
func (h *OrderHandler) RefundOrder(c *gin.Context) {
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.RefundRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.paymentService.RefundOrder(c.Request.Context(), orderID, &req, utils.GetActorFromContext(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// PUT /order-items/:id/status
func (h *OrderHandler) UpdateItemStatus(c *gin.Context) {
	itemID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req TransitionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	item, err := h.orderService.UpdateItemStatus(c.Request.Context(), itemID, req.Status, utils.GetActorFromContext(c), req.Notes)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, item)
}

// DELETE /orders/:id
func (h *OrderHandler) DeleteOrder(c *gin.Context) {
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.orderService.DeleteOrder(c.Request.Context(), orderID, utils.GetActorFromContext(c)); err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"deleted": orderID})
}
