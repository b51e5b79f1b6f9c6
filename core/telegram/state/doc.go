// Package state provides a lightweight FSM manager for Telegram bot
// conversations. The interface is domain-agnostic; implementations decide
// whether the per-user step cursor lives in memory or in durable storage.
package state
