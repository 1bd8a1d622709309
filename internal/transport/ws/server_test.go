package ws

import (
	"encoding/json"
	"log"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"itemward.dev/internal/ban/action"
	"itemward.dev/internal/ban/engine"
	"itemward.dev/internal/ban/item"
	"itemward.dev/internal/ban/rule"
	"itemward.dev/internal/ban/table"
	"itemward.dev/internal/protocol"
)

func testHolder() *table.Holder {
	h := table.NewHolder()
	b := table.NewBlacklist()
	b.AddBan("arena", item.NewStack("stone").TypeOnly(), table.ActionMap{
		action.Break: &rule.ActionData{Action: action.Break, Messages: []string{"no"}, Log: true},
		action.Place: &rule.ActionData{Action: action.Place, Cooldown: 5 * time.Second},
	})
	h.Replace(table.NewSnapshot(b, nil))
	return h
}

func dialTestServer(t *testing.T, s *Server) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(s.Handler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readMsg(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode %s: %v", string(b), err)
	}
}

func writeMsg(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func handshakeTest(t *testing.T, conn *websocket.Conn) protocol.WelcomeMsg {
	t.Helper()
	writeMsg(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Name: "test"})
	var welcome protocol.WelcomeMsg
	readMsg(t, conn, &welcome)
	if welcome.Type != protocol.TypeWelcome || welcome.ProtocolVersion != protocol.Version {
		t.Fatalf("welcome: %+v", welcome)
	}
	return welcome
}

func TestHandshakeAndQueryRules(t *testing.T) {
	s := NewServer(testHolder(), log.New(os.Stdout, "[test] ", 0))
	conn, cleanup := dialTestServer(t, s)
	defer cleanup()

	welcome := handshakeTest(t, conn)
	if len(welcome.Worlds) != 1 || welcome.Worlds[0] != "arena" {
		t.Fatalf("worlds: %v", welcome.Worlds)
	}

	writeMsg(t, conn, protocol.QueryRulesMsg{Type: protocol.TypeQueryRules, World: "Arena", Item: "stone"})
	var rules protocol.RulesMsg
	readMsg(t, conn, &rules)
	if rules.Type != protocol.TypeRules || rules.World != "arena" || rules.Item != "STONE" {
		t.Fatalf("rules header: %+v", rules)
	}
	if len(rules.Rules) != 2 {
		t.Fatalf("rules: %+v", rules.Rules)
	}
	// Sorted by action: BREAK before PLACE.
	if rules.Rules[0].Action != "BREAK" || !rules.Rules[0].Log {
		t.Fatalf("rule 0: %+v", rules.Rules[0])
	}
	if rules.Rules[1].Action != "PLACE" || rules.Rules[1].CooldownMS != 5000 {
		t.Fatalf("rule 1: %+v", rules.Rules[1])
	}
}

func TestQueryRulesUnknownWorld(t *testing.T) {
	s := NewServer(testHolder(), nil)
	conn, cleanup := dialTestServer(t, s)
	defer cleanup()
	handshakeTest(t, conn)

	writeMsg(t, conn, protocol.QueryRulesMsg{Type: protocol.TypeQueryRules, World: "nowhere", Item: "stone"})
	var rules protocol.RulesMsg
	readMsg(t, conn, &rules)
	if len(rules.Rules) != 0 {
		t.Fatalf("unknown world must list no rules: %+v", rules)
	}
}

func TestBadRequestError(t *testing.T) {
	s := NewServer(testHolder(), nil)
	conn, cleanup := dialTestServer(t, s)
	defer cleanup()
	handshakeTest(t, conn)

	writeMsg(t, conn, protocol.QueryRulesMsg{Type: protocol.TypeQueryRules, World: "arena"})
	var em protocol.ErrorMsg
	readMsg(t, conn, &em)
	if em.Type != protocol.TypeError || em.Code != protocol.ErrBadRequest {
		t.Fatalf("error: %+v", em)
	}
	if !protocol.IsKnownCode(em.Code) {
		t.Fatalf("unregistered error code %q", em.Code)
	}
}

func TestHandshakeRejectsBadVersion(t *testing.T) {
	s := NewServer(testHolder(), nil)
	conn, cleanup := dialTestServer(t, s)
	defer cleanup()

	writeMsg(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.9"})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected the connection to close")
	}
}

func TestSubscribeStreamsDecisions(t *testing.T) {
	s := NewServer(testHolder(), nil)
	conn, cleanup := dialTestServer(t, s)
	defer cleanup()
	handshakeTest(t, conn)

	writeMsg(t, conn, protocol.SubscribeMsg{Type: protocol.TypeSubscribe})

	// The subscription registers in the reader loop; broadcast until the
	// first event lands rather than racing it.
	rec := engine.Record{
		Time: time.Now(), PlayerID: "u1", Player: "alex",
		World: "arena", ItemType: "STONE", Action: action.Break,
		Source: engine.SourceBlacklist,
	}
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				s.Broadcast(rec)
				time.Sleep(10 * time.Millisecond)
			}
		}
	}()

	var dec protocol.DecisionMsg
	readMsg(t, conn, &dec)
	close(stop)
	wg.Wait()
	if dec.Type != protocol.TypeDecision || dec.Item != "STONE" || dec.Source != engine.SourceBlacklist {
		t.Fatalf("decision: %+v", dec)
	}
}
