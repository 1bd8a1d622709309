// Package ws serves the admin endpoint: rule introspection queries and
// a live stream of enforced decisions.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"itemward.dev/internal/ban/engine"
	"itemward.dev/internal/ban/item"
	"itemward.dev/internal/ban/table"
	"itemward.dev/internal/protocol"
)

type Server struct {
	tables *table.Holder
	log    *log.Logger

	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewServer(tables *table.Holder, logger *log.Logger) *Server {
	return &Server{
		tables: tables,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: make(map[chan []byte]struct{}),
	}
}

// Broadcast fans one decision out to every subscribed session. Slow
// sessions drop events rather than stalling the engine's observer.
func (s *Server) Broadcast(rec engine.Record) {
	msg := protocol.DecisionMsg{
		Type:     protocol.TypeDecision,
		TS:       rec.Time.UTC().Format(time.RFC3339Nano),
		PlayerID: rec.PlayerID,
		Player:   rec.Player,
		World:    rec.World,
		Item:     rec.ItemType,
		Custom:   rec.Custom,
		Action:   string(rec.Action),
		Source:   rec.Source,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.mu.Lock()
	for ch := range s.subs {
		select {
		case ch <- b:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		out, ok := s.handshake(conn)
		if !ok {
			return
		}
		defer s.unsubscribe(out)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				s.send(out, errorMsg(protocol.ErrProtoBadRequest, "bad json"))
				continue
			}
			switch base.Type {
			case protocol.TypeQueryRules:
				var q protocol.QueryRulesMsg
				if err := json.Unmarshal(msg, &q); err != nil || q.World == "" || q.Item == "" {
					s.send(out, errorMsg(protocol.ErrBadRequest, "world and item required"))
					continue
				}
				s.send(out, s.rulesReply(q))
			case protocol.TypeSubscribe:
				s.subscribe(out)
			default:
				s.send(out, errorMsg(protocol.ErrProtoBadRequest, "unknown type "+base.Type))
			}
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (chan []byte, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil, false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil || hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil, false
	}

	out := make(chan []byte, 64)
	snap := s.tables.Current()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		Worlds:          table.WorldNames(snap.Blacklist, snap.Whitelist),
	}
	b, _ := json.Marshal(welcome)
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return nil, false
	}
	return out, true
}

func (s *Server) rulesReply(q protocol.QueryRulesMsg) []byte {
	st := item.NewStack(q.Item)
	actions := s.tables.RulesFor(q.World, st)
	reply := protocol.RulesMsg{
		Type:  protocol.TypeRules,
		World: strings.ToLower(q.World),
		Item:  strings.ToUpper(q.Item),
		Rules: make([]protocol.RuleInfo, 0, len(actions)),
	}
	for a, d := range actions {
		reply.Rules = append(reply.Rules, protocol.RuleInfo{
			Action:     string(a),
			Messages:   d.Messages,
			Log:        d.Log,
			CooldownMS: d.Cooldown.Milliseconds(),
			Permission: d.BypassNode,
			Custom:     d.CustomName,
		})
	}
	sort.Slice(reply.Rules, func(i, j int) bool { return reply.Rules[i].Action < reply.Rules[j].Action })
	b, _ := json.Marshal(reply)
	return b
}

func (s *Server) subscribe(out chan []byte) {
	s.mu.Lock()
	s.subs[out] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) unsubscribe(out chan []byte) {
	if out == nil {
		return
	}
	s.mu.Lock()
	delete(s.subs, out)
	s.mu.Unlock()
}

func (s *Server) send(out chan []byte, b []byte) {
	select {
	case out <- b:
	default:
		if s.log != nil {
			s.log.Printf("admin session backed up, dropping reply")
		}
	}
}

func errorMsg(code, detail string) []byte {
	b, _ := json.Marshal(protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: detail})
	return b
}
