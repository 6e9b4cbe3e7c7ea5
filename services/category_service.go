package services

import (
	"context"
	"fmt"
	"strings"

	"fishquiz/models"

	"gorm.io/gorm"
)

type CategoryService struct {
	db *gorm.DB
}

func NewCategoryService(db *gorm.DB) *CategoryService {
	return &CategoryService{db: db}
}

type CategoryRequest struct {
	Name string `json:"name" binding:"required"`
}

type CategoryView struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

func (s *CategoryService) List(ctx context.Context) ([]CategoryView, error) {
	var categories []models.Category
	if err := s.db.WithContext(ctx).Order("name").Find(&categories).Error; err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	views := make([]CategoryView, len(categories))
	for i, c := range categories {
		views[i] = CategoryView{ID: c.ID, Name: c.Name}
	}
	return views, nil
}

func (s *CategoryService) Create(ctx context.Context, req *CategoryRequest) (CategoryView, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return CategoryView{}, Validationf("category name is required")
	}

	category := models.Category{Name: name}
	if err := s.db.WithContext(ctx).Create(&category).Error; err != nil {
		if isUniqueViolation(err) {
			return CategoryView{}, Conflictf("category %q already exists", name)
		}
		return CategoryView{}, fmt.Errorf("failed to create category: %w", err)
	}
	return CategoryView{ID: category.ID, Name: category.Name}, nil
}
