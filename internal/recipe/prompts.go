package recipe

import (
	"fmt"
	"strings"
)

// PantryStaples may be used in any recipe without being listed by the user.
var PantryStaples = []string{"соль", "перец", "растительное/сливочное масло", "вода"}

// SystemInstruction is the rule set sent with every text generation.
func SystemInstruction(count int) string {
	return fmt.Sprintf(`Ты — профессиональный кулинарный ИИ-помощник.
Твоя задача — на основе ингредиентов, которые вводит пользователь, сгенерировать список блюд.

Правила:
1. Используй ТОЛЬКО те ингредиенты, которые указал пользователь.
2. Можно добавлять базовые продукты: %s.
3. НЕ добавляй новые основные ингредиенты (мясо, овощи, крупы), которых нет в списке.
4. Предложи ровно %d блюд.
5. Для каждого блюда укажи: название, краткое описание, список ингредиентов, пошаговый рецепт, время приготовления и сложность.
6. В ответе используй русский язык.
7. Сложность может быть только: '%s', '%s', '%s'.`,
		strings.Join(PantryStaples, ", "), count,
		DifficultyEasy, DifficultyMedium, DifficultyHard)
}

// UserMessage lists the ingredients for the model.
func UserMessage(ingredients []string) string {
	return "Ингредиенты: " + strings.Join(ingredients, ", ")
}

// DishImagePrompt describes the photo to generate for a recipe card.
func DishImagePrompt(name, description string) string {
	return fmt.Sprintf(`Extreme photorealistic, high-end editorial food photography of %q. %s.
Professional plating, top-down or 45 degree angle, soft natural lighting, high resolution, appetizing colors, no text. Square 1:1 frame.`,
		name, strings.TrimRight(strings.TrimSpace(description), "."))
}
