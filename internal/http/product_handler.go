package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"main-stack/internal/domain"
	"main-stack/internal/repository"
	"main-stack/internal/service"
)

type ProductHandler struct {
	logger      *zap.Logger
	productServ *service.ProductService
}

func NewProductHandler(logger *zap.Logger, productServ *service.ProductService) *ProductHandler {
	return &ProductHandler{logger: logger, productServ: productServ}
}

// Create maneja POST /api/product/create.
func (h *ProductHandler) Create(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Access token is missing."})
		return
	}
	var req struct {
		Name     string   `json:"name" binding:"required"`
		Price    *float64 `json:"price" binding:"required"`
		Quantity *int     `json:"quantity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid create product request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	p, err := h.productServ.Create(c.Request.Context(), service.CreateProductInput{
		Name:     req.Name,
		Price:    *req.Price,
		Quantity: *req.Quantity,
		AddedBy:  claims.UserID(),
	})
	if err != nil {
		h.writeError(c, "create product failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"product": p})
}

// Update maneja PUT /api/product/:id/update.
func (h *ProductHandler) Update(c *gin.Context) {
	var req struct {
		Name     *string  `json:"name"`
		Price    *float64 `json:"price"`
		Quantity *int     `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid update product request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	p, err := h.productServ.Update(c.Request.Context(), c.Param("id"), domain.ProductPatch{
		Name:     req.Name,
		Price:    req.Price,
		Quantity: req.Quantity,
	})
	if err != nil {
		h.writeError(c, "update product failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": p})
}

// Get maneja GET /api/product/:id.
func (h *ProductHandler) Get(c *gin.Context) {
	p, err := h.productServ.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "get product failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": p})
}

// GetByName maneja GET /api/product/product/:name.
func (h *ProductHandler) GetByName(c *gin.Context) {
	p, err := h.productServ.GetByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.writeError(c, "get product by name failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": p})
}

// List maneja GET /api/product?name=&id=.
func (h *ProductHandler) List(c *gin.Context) {
	items, err := h.productServ.List(c.Request.Context(), repository.ProductFilter{
		ID:   c.Query("id"),
		Name: c.Query("name"),
	})
	if err != nil {
		h.writeError(c, "list products failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": items})
}

// Delete maneja DELETE /api/product/:id.
func (h *ProductHandler) Delete(c *gin.Context) {
	if err := h.productServ.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, "delete product failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product deleted."})
}

func (h *ProductHandler) writeError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, service.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found."})
	case errors.Is(err, service.ErrInvalidProduct):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product data."})
	default:
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
