package router

import "github.com/tritikalab/supportbot/internal/channel"

// Menu callback data values. These travel inside inline-keyboard buttons
// and come back as menu events.
const (
	MenuPriceMain  = "price_main"
	MenuPriceECP   = "price_ecp"
	MenuManualMode = "manual_mode"
	MenuBack       = "back_to_menu"
)

const (
	msgWelcome          = "👋 Добро пожаловать в ООО 'Тритика'!\n\nВыберите действие:"
	msgMainMenu         = "Главное меню:"
	msgManualActivated  = "💬 <b>Режим диалога с менеджером активирован!</b>\n\nОтправьте ваш вопрос. Для возврата в меню нажмите кнопку ниже."
	msgForwardedAck     = "✅ Ваше сообщение переслано менеджеру. Он ответит вам в ближайшее время."
	msgFileForwardedAck = "✅ Файл переслан менеджеру."
	msgProcessing       = "⏳ Обрабатываю ваш запрос..."
	msgAnalyzing        = "⏳ Скачиваю и анализирую документ..."
	msgExtractFailed    = "❌ Не удалось извлечь текст из файла."
	msgAttachmentFailed = "Не удалось обработать вложение."
	msgCompletionFailed = "⚠️ Не удалось обработать запрос. Попробуйте ещё раз позже."
	msgManagerUnreached = "❌ Не удалось связаться с менеджером. Попробуйте позже."
	msgReplyDelivered   = "✅ Ответ отправлен пользователю."
	msgReplyUndelivered = "❌ Не удалось доставить ответ пользователю."
	msgReplyUnresolved  = "❌ Не удалось найти пользователя для этого сообщения."

	cbManualActivated = "Режим ручного общения активирован"
	cbBackToMenu      = "Возврат в меню"

	fmtManagerNotify = "⚠️ ПОЛЬЗОВАТЕЛЬ ПЕРЕШЕЛ В РЕЖИМ РУЧНОГО ОБЩЕНИЯ\n\n👤 %s"
	fmtForwardText   = "📩 <b>Сообщение от пользователя:</b>\n\n%s\n\n%s"
	fmtFileCaption   = "📎 Вложение от %s"
	fmtManagerReply  = "💬 <b>Ответ от менеджера:</b>\n\n%s"
	fmtAnalysis      = "Проанализируй этот документ о закупке: %s"
)

func mainKeyboard() channel.Keyboard {
	return channel.Keyboard{
		{{Label: "📋 Прайс-лист (основные услуги)", Data: MenuPriceMain}},
		{{Label: "🔐 Прайс ЭЦП для ФЛ", Data: MenuPriceECP}},
		{{Label: "❓ Задать вопрос менеджеру", Data: MenuManualMode}},
	}
}

func backKeyboard() channel.Keyboard {
	return channel.Keyboard{
		{{Label: "◀️ Назад в меню", Data: MenuBack}},
	}
}
