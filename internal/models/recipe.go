package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Recipe представляет технологическую карту позиции меню.
// Одна позиция меню имеет не больше одного активного рецепта.
type Recipe struct {
	ID          string         `json:"id" gorm:"type:uuid;primaryKey"`
	MenuItemID  string         `json:"menu_item_id" gorm:"type:uuid;not null;uniqueIndex"`
	Name        string         `json:"name" gorm:"type:varchar(255);not null"`
	Description string         `json:"description" gorm:"type:text"`
	IsActive    bool           `json:"is_active" gorm:"default:true"`
	CreatedAt   time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt   gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`

	// Relations
	Ingredients []RecipeIngredient `json:"ingredients" gorm:"foreignKey:RecipeID"`
	SubRecipes  []RecipeSubRecipe  `json:"sub_recipes" gorm:"foreignKey:ParentRecipeID"`
}

// TableName указывает имя таблицы
func (Recipe) TableName() string {
	return "recipes"
}

// BeforeCreate генерирует UUID
func (r *Recipe) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// RecipeIngredient представляет прямой расход сырья в рецепте
type RecipeIngredient struct {
	ID          string    `json:"id" gorm:"type:uuid;primaryKey"`
	RecipeID    string    `json:"recipe_id" gorm:"type:uuid;not null;uniqueIndex:idx_recipe_ingredient;index"`
	InventoryID int64     `json:"inventory_id" gorm:"not null;uniqueIndex:idx_recipe_ingredient;index"`
	Item        *InventoryItem `gorm:"foreignKey:InventoryID" json:"item,omitempty"`
	Quantity    float64   `json:"quantity" gorm:"type:decimal(12,4);not null"` // Расход на одну порцию
	Unit        string    `json:"unit" gorm:"type:varchar(20);not null;default:'g'"`
	IsOptional  bool      `json:"is_optional" gorm:"default:false"` // Опциональный ингредиент не блокирует заказ при нехватке
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (RecipeIngredient) TableName() string {
	return "recipe_ingredients"
}

// BeforeCreate генерирует UUID
func (ri *RecipeIngredient) BeforeCreate(tx *gorm.DB) error {
	if ri.ID == "" {
		ri.ID = uuid.New().String()
	}
	return nil
}

// RecipeSubRecipe представляет вложенный полуфабрикат внутри рецепта.
// Multiplier масштабирует весь расход вложенного рецепта.
type RecipeSubRecipe struct {
	ID             string    `json:"id" gorm:"type:uuid;primaryKey"`
	ParentRecipeID string    `json:"parent_recipe_id" gorm:"type:uuid;not null;uniqueIndex:idx_recipe_sub_recipe;index"`
	ChildRecipeID  string    `json:"child_recipe_id" gorm:"type:uuid;not null;uniqueIndex:idx_recipe_sub_recipe;index"`
	ChildRecipe    *Recipe   `gorm:"foreignKey:ChildRecipeID" json:"child_recipe,omitempty"`
	Multiplier     float64   `json:"multiplier" gorm:"type:decimal(10,4);not null;default:1"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName указывает имя таблицы
func (RecipeSubRecipe) TableName() string {
	return "recipe_sub_recipes"
}

// BeforeCreate генерирует UUID
func (rs *RecipeSubRecipe) BeforeCreate(tx *gorm.DB) error {
	if rs.ID == "" {
		rs.ID = uuid.New().String()
	}
	return nil
}
