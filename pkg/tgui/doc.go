// Package tgui builds Telegram replies: HTML fragments, inline keyboards
// with group:action:payload callback data, and list paging.
package tgui
