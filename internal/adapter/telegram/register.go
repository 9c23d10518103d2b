package telegram

import (
	"strconv"

	"github.com/circadianhq/circadian/internal/port/notifier"
)

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		chatID, _ := strconv.ParseInt(config["chat_id"], 10, 64)
		return NewNotifier(config["token"], chatID)
	})
}
