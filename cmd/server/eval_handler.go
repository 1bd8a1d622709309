package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"itemward.dev/internal/ban/action"
	"itemward.dev/internal/ban/engine"
	"itemward.dev/internal/ban/item"
	"itemward.dev/internal/ban/rule"
	"itemward.dev/internal/ban/table"
)

// evalRequest is one occurrence posted by the host's event bridge.
type evalRequest struct {
	PlayerID string  `json:"player_id,omitempty"`
	Player   string  `json:"player,omitempty"`
	World    string  `json:"world"`
	GameMode string  `json:"gamemode,omitempty"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
	Z        float64 `json:"z,omitempty"`

	Item   string     `json:"item"`
	Meta   *item.Meta `json:"meta,omitempty"`
	Action string     `json:"action"`
	Aux    []auxDatum `json:"aux,omitempty"`
}

type auxDatum struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
	Level int    `json:"level,omitempty"`
}

type evalResponse struct {
	Blocked     bool `json:"blocked"`
	MessageSent bool `json:"message_sent"`
}

func evalHandler(eng *engine.Engine) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(rw, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req evalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(rw, "bad json", http.StatusBadRequest)
			return
		}
		a, ok := action.Parse(req.Action)
		if !ok {
			http.Error(rw, "unknown action", http.StatusBadRequest)
			return
		}
		if req.World == "" || req.Item == "" {
			http.Error(rw, "world and item required", http.StatusBadRequest)
			return
		}

		st := item.NewStackMeta(req.Item, req.Meta)
		aux := make([]action.Aux, 0, len(req.Aux))
		for _, d := range req.Aux {
			aux = append(aux, action.Aux{
				Kind:  action.AuxKind(strings.ToUpper(d.Kind)),
				Value: strings.ToUpper(d.Value),
				Level: d.Level,
			})
		}

		var dec engine.Decision
		if req.PlayerID == "" {
			// Non-player occurrence (hopper, dispenser): reduced path.
			dec = eng.EvaluateWorld(req.World, st, a, aux...)
		} else {
			gm, _ := rule.ParseGameMode(req.GameMode)
			p := &engine.Player{
				ID:       req.PlayerID,
				Name:     req.Player,
				World:    req.World,
				GameMode: gm,
				X:        req.X,
				Y:        req.Y,
				Z:        req.Z,
			}
			dec = eng.Evaluate(p, nil, st, a, aux...)
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(evalResponse{Blocked: dec.Blocked, MessageSent: dec.MessageSent})
	}
}

// disconnectHandler drops a departed player's cooldown state. The host
// bridge posts here on quit so abandoned windows don't pin memory.
func disconnectHandler(tables *table.Holder) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(rw, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			PlayerID string `json:"player_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == "" {
			http.Error(rw, "player_id required", http.StatusBadRequest)
			return
		}
		tables.ForgetPlayer(req.PlayerID)
		rw.WriteHeader(http.StatusNoContent)
	}
}
