// internal/handlers/report.go
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/settlement-backend/internal/models"
	"github.com/javajoker/settlement-backend/internal/services"
	"github.com/javajoker/settlement-backend/internal/utils"
)

type ReportHandler struct {
	reportService *services.ReportService
}

func NewReportHandler(reportService *services.ReportService) *ReportHandler {
	return &ReportHandler{
		reportService: reportService,
	}
}

// POST /reports/generate
// Without vendor_id the platform row and every vendor row of the period are rebuilt.
func (h *ReportHandler) GenerateReports(c *gin.Context) {
	var req services.GenerateReportRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if req.VendorID != nil {
		report, err := h.reportService.Generate(c.Request.Context(), req.ReportType, req.Date, req.VendorID)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.SuccessResponse(c, []models.SalesReport{*report})
		return
	}

	reports, err := h.reportService.GenerateAll(c.Request.Context(), req.ReportType, req.Date)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, reports)
}

// POST /reports/export
func (h *ReportHandler) ExportReports(c *gin.Context) {
	var req services.ExportReportRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.reportService.Export(c.Request.Context(), req.ReportType, req.Date)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, result)
}

// GET /reports?report_type=daily&date=2024-01-15
func (h *ReportHandler) ListReports(c *gin.Context) {
	reportType := models.ReportType(c.DefaultQuery("report_type", string(models.ReportTypeDaily)))

	date := time.Now().UTC()
	parsed, ok := parseOptionalDate(c, "date")
	if !ok {
		return
	}
	if parsed != nil {
		date = *parsed
	}

	reports, err := h.reportService.ListReports(c.Request.Context(), reportType, date)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, reports)
}
