package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurorapos/server/internal/models"
)

func makeRecipe(id, menuItemID string, ingredients []models.RecipeIngredient, subs []models.RecipeSubRecipe) *models.Recipe {
	return &models.Recipe{
		ID:          id,
		MenuItemID:  menuItemID,
		Name:        id,
		Ingredients: ingredients,
		SubRecipes:  subs,
	}
}

func TestExpandRequirementsSinglePizza(t *testing.T) {
	// Маргарита: тесто 250 г, томатный соус 100 мл, моцарелла 150 г
	margherita := makeRecipe("r-margherita", "m-margherita", []models.RecipeIngredient{
		{InventoryID: 1, Quantity: 250, Unit: "g"},
		{InventoryID: 2, Quantity: 100, Unit: "ml"},
		{InventoryID: 3, Quantity: 150, Unit: "g"},
	}, nil)

	byMenuItem := map[string]*models.Recipe{"m-margherita": margherita}
	byID := map[string]*models.Recipe{"r-margherita": margherita}

	required, withoutRecipes := ExpandRequirements(
		[]OrderItemInput{{MenuItemID: "m-margherita", Quantity: 2}},
		byMenuItem, byID, 5,
	)

	require.Empty(t, withoutRecipes)
	require.Len(t, required, 3)
	assert.Equal(t, 500.0, required[1].Quantity)
	assert.Equal(t, 200.0, required[2].Quantity)
	assert.Equal(t, 300.0, required[3].Quantity)
	assert.Equal(t, "g", required[1].Unit)
	assert.Equal(t, []string{"m-margherita"}, required[1].OrderItems)
}

func TestExpandRequirementsSubRecipeMultiplier(t *testing.T) {
	// Соус как вложенный рецепт с множителем 0.5
	sauce := makeRecipe("r-sauce", "", []models.RecipeIngredient{
		{InventoryID: 10, Quantity: 200, Unit: "ml"},
	}, nil)
	pizza := makeRecipe("r-pizza", "m-pizza", []models.RecipeIngredient{
		{InventoryID: 1, Quantity: 250, Unit: "g"},
	}, []models.RecipeSubRecipe{
		{ParentRecipeID: "r-pizza", ChildRecipeID: "r-sauce", Multiplier: 0.5},
	})

	required, _ := ExpandRequirements(
		[]OrderItemInput{{MenuItemID: "m-pizza", Quantity: 2}},
		map[string]*models.Recipe{"m-pizza": pizza},
		map[string]*models.Recipe{"r-pizza": pizza, "r-sauce": sauce},
		5,
	)

	require.Len(t, required, 2)
	assert.Equal(t, 500.0, required[1].Quantity)
	// 2 пиццы * 0.5 порции соуса * 200 мл
	assert.Equal(t, 200.0, required[10].Quantity)
	assert.Contains(t, required[10].Recipes, "r-sauce")
}

func TestExpandRequirementsCycleGuard(t *testing.T) {
	// A -> B -> A: цикл обрывается, каждый рецепт вносит вклад один раз
	a := makeRecipe("r-a", "m-a", []models.RecipeIngredient{
		{InventoryID: 1, Quantity: 10, Unit: "g"},
	}, []models.RecipeSubRecipe{{ParentRecipeID: "r-a", ChildRecipeID: "r-b", Multiplier: 1}})
	b := makeRecipe("r-b", "", []models.RecipeIngredient{
		{InventoryID: 2, Quantity: 20, Unit: "g"},
	}, []models.RecipeSubRecipe{{ParentRecipeID: "r-b", ChildRecipeID: "r-a", Multiplier: 1}})

	required, _ := ExpandRequirements(
		[]OrderItemInput{{MenuItemID: "m-a", Quantity: 1}},
		map[string]*models.Recipe{"m-a": a},
		map[string]*models.Recipe{"r-a": a, "r-b": b},
		5,
	)

	require.Len(t, required, 2)
	assert.Equal(t, 10.0, required[1].Quantity)
	assert.Equal(t, 20.0, required[2].Quantity)
}

func TestExpandRequirementsDepthCap(t *testing.T) {
	// Цепочка глубже лимита: хвост обрезается без ошибки
	leaf := makeRecipe("r-leaf", "", []models.RecipeIngredient{
		{InventoryID: 99, Quantity: 1, Unit: "g"},
	}, nil)
	mid := makeRecipe("r-mid", "", nil, []models.RecipeSubRecipe{
		{ParentRecipeID: "r-mid", ChildRecipeID: "r-leaf", Multiplier: 1},
	})
	root := makeRecipe("r-root", "m-root", nil, []models.RecipeSubRecipe{
		{ParentRecipeID: "r-root", ChildRecipeID: "r-mid", Multiplier: 1},
	})

	byID := map[string]*models.Recipe{"r-root": root, "r-mid": mid, "r-leaf": leaf}
	byMenu := map[string]*models.Recipe{"m-root": root}

	required, _ := ExpandRequirements(
		[]OrderItemInput{{MenuItemID: "m-root", Quantity: 1}},
		byMenu, byID, 1,
	)
	assert.Empty(t, required, "лист на глубине 2 не должен раскрыться при лимите 1")

	required, _ = ExpandRequirements(
		[]OrderItemInput{{MenuItemID: "m-root", Quantity: 1}},
		byMenu, byID, 2,
	)
	assert.Equal(t, 1.0, required[99].Quantity)
}

func TestExpandRequirementsOptionalIngredients(t *testing.T) {
	recipe := makeRecipe("r-1", "m-1", []models.RecipeIngredient{
		{InventoryID: 1, Quantity: 100, Unit: "g"},
		{InventoryID: 2, Quantity: 5, Unit: "g", IsOptional: true},
	}, nil)

	required, _ := ExpandRequirements(
		[]OrderItemInput{{MenuItemID: "m-1", Quantity: 1}},
		map[string]*models.Recipe{"m-1": recipe},
		map[string]*models.Recipe{"r-1": recipe},
		5,
	)

	require.Len(t, required, 1)
	assert.NotContains(t, required, int64(2))
}

func TestExpandRequirementsMissingRecipe(t *testing.T) {
	recipe := makeRecipe("r-1", "m-1", []models.RecipeIngredient{
		{InventoryID: 1, Quantity: 100, Unit: "g"},
	}, nil)

	required, withoutRecipes := ExpandRequirements(
		[]OrderItemInput{
			{MenuItemID: "m-1", Quantity: 1},
			{MenuItemID: "m-unknown", Quantity: 3},
		},
		map[string]*models.Recipe{"m-1": recipe},
		map[string]*models.Recipe{"r-1": recipe},
		5,
	)

	// Позиция без рецепта не блокирует списание остальных
	require.Len(t, required, 1)
	assert.Equal(t, []string{"m-unknown"}, withoutRecipes)
}

func TestExpandRequirementsSharedIngredient(t *testing.T) {
	// Две пиццы делят тесто: расход суммируется в одну строку
	first := makeRecipe("r-1", "m-1", []models.RecipeIngredient{
		{InventoryID: 1, Quantity: 250, Unit: "g"},
	}, nil)
	second := makeRecipe("r-2", "m-2", []models.RecipeIngredient{
		{InventoryID: 1, Quantity: 300, Unit: "g"},
	}, nil)

	required, _ := ExpandRequirements(
		[]OrderItemInput{
			{MenuItemID: "m-1", Quantity: 1},
			{MenuItemID: "m-2", Quantity: 1},
		},
		map[string]*models.Recipe{"m-1": first, "m-2": second},
		map[string]*models.Recipe{"r-1": first, "r-2": second},
		5,
	)

	require.Len(t, required, 1)
	assert.Equal(t, 550.0, required[1].Quantity)
	assert.ElementsMatch(t, []string{"m-1", "m-2"}, required[1].OrderItems)
}

func TestLowStockThresholdFor(t *testing.T) {
	// Явный порог позиции имеет приоритет над процентным
	explicit := &models.InventoryItem{LowStockThreshold: 100}
	assert.Equal(t, 100.0, lowStockThresholdFor(explicit, 500, 20))

	// Без порога предупреждение срабатывает от процента исходного остатка
	implicit := &models.InventoryItem{}
	assert.Equal(t, 100.0, lowStockThresholdFor(implicit, 500, 20))

	// Нулевой процент или пустой остаток отключают процентный порог
	assert.Equal(t, 0.0, lowStockThresholdFor(implicit, 500, 0))
	assert.Equal(t, 0.0, lowStockThresholdFor(implicit, 0, 20))
}

func TestPublishStockWarningsEventKinds(t *testing.T) {
	var events []string
	publisher := func(event string, payload map[string]interface{}) {
		events = append(events, event)
	}

	publishStockWarnings(publisher, []LowStockWarning{
		{InventoryID: 1, Name: "Мука", Quantity: 5, Threshold: 10, Unit: "g"},
		{InventoryID: 2, Name: "Соус", Quantity: -3, Unit: "ml", WentNegative: true},
	})
	assert.Equal(t, []string{"low_stock", "negative_stock"}, events)

	// Без издателя предупреждения молча пропускаются
	publishStockWarnings(nil, []LowStockWarning{{InventoryID: 1}})
}
