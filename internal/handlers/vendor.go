// internal/handlers/vendor.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/settlement-backend/internal/services"
	"github.com/javajoker/settlement-backend/internal/utils"
)

type VendorHandler struct {
	vendorService *services.VendorService
}

func NewVendorHandler(vendorService *services.VendorService) *VendorHandler {
	return &VendorHandler{
		vendorService: vendorService,
	}
}

// POST /vendors
func (h *VendorHandler) CreateVendor(c *gin.Context) {
	var req services.CreateVendorRequest
	if !bindAndValidate(c, &req) {
		return
	}

	vendor, err := h.vendorService.CreateVendor(c.Request.Context(), &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.CreatedResponse(c, vendor)
}

// GET /vendors/:id
func (h *VendorHandler) GetVendor(c *gin.Context) {
	vendorID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	vendor, err := h.vendorService.GetVendor(c.Request.Context(), vendorID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, vendor)
}

// PUT /vendors/:id
func (h *VendorHandler) UpdateVendor(c *gin.Context) {
	vendorID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.UpdateVendorRequest
	if !bindAndValidate(c, &req) {
		return
	}

	vendor, err := h.vendorService.UpdateVendor(c.Request.Context(), vendorID, &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, vendor)
}

// PUT /vendors/:id/brands/:brandId/rate
func (h *VendorHandler) SetBrandRate(c *gin.Context) {
	vendorID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	brandID, ok := parseIDParam(c, "brandId")
	if !ok {
		return
	}

	var req services.SetBrandRateRequest
	if !bindAndValidate(c, &req) {
		return
	}

	brand, err := h.vendorService.SetBrandRate(c.Request.Context(), vendorID, brandID, req.CommissionRate)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, brand)
}
