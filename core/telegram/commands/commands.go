package commands

import (
	tele "gopkg.in/telebot.v4"
)

// Standard is the full command menu shown while a chat is idle.
func Standard() []tele.Command {
	return []tele.Command{
		{Text: "start", Description: "Start the bot and get welcome message"},
		{Text: "bots", Description: "List all available bots and their settings"},
		{Text: "setprompt", Description: "Set a custom prompt for this bot"},
		{Text: "cancel", Description: "Cancel current operation"},
	}
}

// Contextual is the restricted menu shown while a chat awaits a custom prompt.
func Contextual() []tele.Command {
	return []tele.Command{
		{Text: "cancel", Description: "Cancel current operation"},
	}
}
