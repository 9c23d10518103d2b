package main

// Provider blank imports — each import activates a self-registering adapter.
// Add new providers here as they are implemented.

import (
	_ "github.com/circadianhq/circadian/internal/adapter/telegram"
)
