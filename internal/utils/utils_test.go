package utils

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type amounts struct {
	Price decimal.Decimal  `validate:"money"`
	Rate  *decimal.Decimal `validate:"omitempty,rate"`
}

func TestMoneyAndRateValidators(t *testing.T) {
	rate := decimal.RequireFromString("12.5")
	assert.NoError(t, ValidateStruct(&amounts{Price: decimal.RequireFromString("10.25"), Rate: &rate}))
	assert.NoError(t, ValidateStruct(&amounts{Price: decimal.Zero}))

	errs := GetValidationErrors(ValidateStruct(&amounts{Price: decimal.RequireFromString("10.255")}))
	require.Len(t, errs, 1)
	assert.Equal(t, "price", errs[0].Field)
	assert.Equal(t, "money", errs[0].Tag)

	errs = GetValidationErrors(ValidateStruct(&amounts{Price: decimal.RequireFromString("-1")}))
	assert.Len(t, errs, 1)

	tooHigh := decimal.RequireFromString("100.5")
	errs = GetValidationErrors(ValidateStruct(&amounts{Price: decimal.Zero, Rate: &tooHigh}))
	require.Len(t, errs, 1)
	assert.Equal(t, "rate", errs[0].Tag)
	assert.Contains(t, errs[0].Message, "percentage")
}

func TestGetPaginationParams(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/v1/orders?page=0&limit=500&order=sideways", nil)
	params := GetPaginationParams(c)
	assert.Equal(t, PaginationParams{Page: 1, Limit: 20, Sort: "created_at", Order: "desc"}, params)

	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/v1/orders?page=3&limit=10&sort=total_amount&order=asc", nil)
	params = GetPaginationParams(c)
	assert.Equal(t, 3, params.Page)
	assert.Equal(t, "asc", params.Order)

	result := CreatePaginationResult([]int{1}, 21, params)
	assert.Equal(t, 3, result.TotalPages)
}

func TestGetActorFromContext(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, "system", GetActorFromContext(c))

	c.Set("user_id", "0c5a")
	assert.Equal(t, "0c5a", GetActorFromContext(c))

	c.Set("username", "finance-lead")
	assert.Equal(t, "finance-lead", GetActorFromContext(c))
}
