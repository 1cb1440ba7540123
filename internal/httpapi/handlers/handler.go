package handlers

import (
	"github.com/ideagen/backend/internal/chat"
	"github.com/ideagen/backend/internal/config"
	"github.com/ideagen/backend/internal/idea"
	"gorm.io/gorm"
)

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	ChatSvc *chat.Service
	Sender  chat.Sender
	Ideas   *idea.Service
}

func NewHandler(db *gorm.DB, cfg config.Config, chatSvc *chat.Service, sender chat.Sender, ideas *idea.Service) *Handler {
	return &Handler{
		DB:      db,
		Cfg:     cfg,
		ChatSvc: chatSvc,
		Sender:  sender,
		Ideas:   ideas,
	}
}
