package handler

import (
	"github.com/Plannorium/curenium-sub005/internal/app/chat"
	"github.com/Plannorium/curenium-sub005/internal/app/presence"
	"github.com/Plannorium/curenium-sub005/internal/app/storage"
	"github.com/Plannorium/curenium-sub005/internal/configs"
)

// AppDeps bundles the collaborators shared by the HTTP and WebSocket handlers.
type AppDeps struct {
	Hub            *chat.Hub
	Store          chat.MessageStore
	Conversations  *chat.ConversationAggregator
	Presence       *presence.Tracker
	StorageService storage.StorageService
	Config         *configs.AppConfig
}
