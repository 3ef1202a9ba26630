package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/linecraftx/linecraft-bot/internal/models"
)

// Callback data prefixes for inline menus.
const (
	ActionCallbackPrefix = "act_"
	RefineCallbackPrefix = "refine_"
)

// ActionMenu offers the capability choices attached to an uploaded photo.
func ActionMenu() *tgbotapi.InlineKeyboardMarkup {
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎓 Solve Question", ActionCallbackPrefix+string(models.ActionAnswerQuestion)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🧐 Pickup Lines", ActionCallbackPrefix+string(models.ActionPickupLines)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬆️ Convo Starters", ActionCallbackPrefix+string(models.ActionConvoStarters)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬆️ Convo Replies", ActionCallbackPrefix+string(models.ActionConvoReplies)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬇️ Date Ideas", ActionCallbackPrefix+string(models.ActionDateIdeas)),
		),
	)
	return &markup
}

// RefinementMenu offers the tweak choices attached to a generated suggestion.
func RefinementMenu() *tgbotapi.InlineKeyboardMarkup {
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➕ Longer", RefineCallbackPrefix+string(models.RefineLonger)),
			tgbotapi.NewInlineKeyboardButtonData("➖ Shorter", RefineCallbackPrefix+string(models.RefineShorter)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎨 More Spicy", RefineCallbackPrefix+string(models.RefineMoreSpicy)),
			tgbotapi.NewInlineKeyboardButtonData("😐 Less Spicy", RefineCallbackPrefix+string(models.RefineLessSpicy)),
		),
	)
	return &markup
}
