// Package ws exposes the kernel over a websocket protocol: HELLO/WELCOME
// handshake, ACT batches answered with per-action RESULT frames, and
// EVENT_BATCH_REQ for cursor-based event log reads.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"scripcraft.ai/internal/protocol"
	"scripcraft.ai/internal/scrip"
	"scripcraft.ai/internal/sim/kernel"
)

type Server struct {
	kernel *kernel.Kernel
	log    *log.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session // resume token -> session
	names    int                 // spawn counter, disambiguates duplicate names
}

type session struct {
	SessionID   string
	PrincipalID string
	ResumeToken string
}

func NewServer(k *kernel.Kernel, logger *log.Logger) *Server {
	return &Server{
		kernel: k,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: make(map[string]*session),
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeAct:
				s.handleAct(conn, sess, msg)
			case protocol.TypeEventBatchReq:
				s.handleEventBatchReq(conn, msg)
			}
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closePolicy(conn, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closePolicy(conn, "bad protocol_version")
		return nil
	}

	sess := s.resume(hello.ResumeToken)
	if sess == nil {
		sess = s.join(hello.PrincipalName)
		if sess == nil {
			closePolicy(conn, "spawn failed")
			return nil
		}
	}

	t := s.kernel.Tuning()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.SessionID,
		PrincipalID:     sess.PrincipalID,
		ResumeToken:     sess.ResumeToken,
		WorldParams: protocol.WorldParams{
			TickRateHz:         t.TickRateHz,
			Seed:               t.Seed,
			AuctionCycleTicks:  t.Auction.CycleTicks,
			BiddingWindowTicks: t.Auction.BiddingWindowTicks,
			GraceTicks:         t.Auction.GraceTicks,
			MintRatio:          t.Auction.MintRatio,
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	return sess
}

func (s *Server) resume(token string) *session {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[token]
	if sess == nil {
		return nil
	}
	// Fresh session id per connection; the principal persists.
	sess.SessionID = uuid.New().String()
	return sess
}

func (s *Server) join(name string) *session {
	s.mu.Lock()
	s.names++
	id := principalID(name, s.names)
	s.mu.Unlock()

	if err := s.kernel.SpawnPrincipal(id); err != nil {
		s.log.Printf("ws: spawn %s: %v", id, err)
		return nil
	}

	sess := &session{
		SessionID:   uuid.New().String(),
		PrincipalID: id,
		ResumeToken: uuid.New().String(),
	}
	s.mu.Lock()
	s.sessions[sess.ResumeToken] = sess
	s.mu.Unlock()
	return sess
}

func principalID(name string, n int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	base := strings.Trim(b.String(), "_")
	if base == "" {
		base = "principal"
	}
	return "p_" + base + "_" + uuid.New().String()[:8] + "_" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func (s *Server) handleAct(conn *websocket.Conn, sess *session, msg []byte) {
	if err := protocol.ValidateAct(msg); err != nil {
		s.writeResult(conn, "", protocol.ErrProtoBadRequest, "schema: "+err.Error())
		return
	}
	var act protocol.ActMsg
	if err := json.Unmarshal(msg, &act); err != nil {
		s.writeResult(conn, "", protocol.ErrProtoBadRequest, err.Error())
		return
	}
	if act.ProtocolVersion != protocol.Version {
		s.writeResult(conn, "", protocol.ErrProtoBadRequest, "bad protocol_version")
		return
	}
	tick := s.kernel.CurrentTick()
	if act.Tick != 0 && act.Tick < tick {
		for _, a := range act.Actions {
			s.writeResult(conn, a.ID, protocol.ErrStale, "act targets a past tick")
		}
		return
	}

	for _, a := range act.Actions {
		action, err := toKernelAction(a)
		if err != nil {
			s.writeResult(conn, a.ID, protocol.ErrValidation, err.Error())
			continue
		}
		res := s.kernel.Apply(sess.PrincipalID, action)
		out := protocol.ResultMsg{
			Type:            protocol.TypeResult,
			ProtocolVersion: protocol.Version,
			Ref:             a.ID,
			Tick:            s.kernel.CurrentTick(),
			OK:              res.Success,
			Code:            res.Code,
			Message:         res.Message,
			ChargedTo:       res.ChargedTo,
			Consumed:        res.ResourcesConsumed,
			Value:           res.Value,
		}
		if err := writeJSON(conn, out); err != nil {
			return
		}
	}
}

func toKernelAction(a protocol.ActionReq) (kernel.Action, error) {
	out := kernel.Action{
		Type:           a.Type,
		ArtifactID:     a.ArtifactID,
		ContentType:    a.ContentType,
		Code:           a.Code,
		ResourcePolicy: a.ResourcePolicy,
		Method:         a.Method,
		Args:           a.Args,
	}
	if a.Content != "" {
		out.Content = []byte(a.Content)
	}
	if a.Price != "" {
		v, err := scrip.Parse(a.Price)
		if err != nil {
			return out, err
		}
		out.Price = v
	}
	if a.ReadPrice != "" {
		v, err := scrip.Parse(a.ReadPrice)
		if err != nil {
			return out, err
		}
		out.ReadPrice = v
	}
	if a.Access != nil {
		out.Access = &kernel.AccessPolicy{Mode: a.Access.Mode, Allow: a.Access.Allow}
	}
	return out, nil
}

func (s *Server) handleEventBatchReq(conn *websocket.Conn, msg []byte) {
	var req protocol.EventBatchReqMsg
	if err := json.Unmarshal(msg, &req); err != nil {
		return
	}
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	entries, next := s.kernel.ReadEventsSince(req.SinceSeq, limit)

	items := make([]protocol.EventBatchItem, 0, len(entries))
	for _, e := range entries {
		ev := protocol.Event{"tick": e.Tick, "seq": e.Seq, "type": e.Type}
		for k, v := range e.Payload {
			ev[k] = v
		}
		items = append(items, protocol.EventBatchItem{Seq: e.Seq, Event: ev})
	}
	_ = writeJSON(conn, protocol.EventBatchMsg{
		Type:            protocol.TypeEventBatch,
		ProtocolVersion: protocol.Version,
		ReqID:           req.ReqID,
		Events:          items,
		NextSeq:         next,
	})
}

func (s *Server) writeResult(conn *websocket.Conn, ref, code, message string) {
	_ = writeJSON(conn, protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		Ref:             ref,
		Tick:            s.kernel.CurrentTick(),
		Code:            code,
		Message:         message,
	})
}

func closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
