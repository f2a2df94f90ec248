package stores

import (
	"log"

	"github.com/parlorchat/parlor/models"
)

// SanitizeWindow prepares a fetched history window for a provider call.
// Windowed fetches can truncate a conversation mid-exchange, and errored
// assistant turns hold templated failure text that must not be replayed as
// model output. The rules:
//
//  1. The window starts with a user turn; leading assistant turns left over
//     from truncation are dropped.
//  2. Errored assistant turns are dropped entirely, together with nothing
//     else - the user turn that produced them stays, so the model still
//     sees what was asked.
//  3. An assistant turn whose tool calls have no recorded results is
//     dropped; replaying a half-finished tool exchange confuses providers
//     that validate call/result pairing.
func SanitizeWindow(turns []models.ChatTurn) []models.ChatTurn {
	if len(turns) == 0 {
		return turns
	}

	start := 0
	for start < len(turns) && turns[start].Role != models.RoleUser {
		start++
	}
	if start == len(turns) {
		log.Printf("[SANITIZER] window has no user turn, returning empty history")
		return []models.ChatTurn{}
	}
	if start > 0 {
		log.Printf("[SANITIZER] dropping %d leading assistant turn(s) from truncated window", start)
		turns = turns[start:]
	}

	sanitized := make([]models.ChatTurn, 0, len(turns))
	for _, turn := range turns {
		if turn.Role == models.RoleAssistant {
			if turn.IsError {
				continue
			}
			if hasUnresolvedToolCalls(turn) {
				log.Printf("[SANITIZER] dropping assistant turn %s with unresolved tool calls", turn.ID)
				continue
			}
		}
		sanitized = append(sanitized, turn)
	}
	return sanitized
}

func hasUnresolvedToolCalls(turn models.ChatTurn) bool {
	for _, call := range turn.ToolCalls {
		if call.Result == "" && !call.IsError {
			return true
		}
	}
	return false
}
