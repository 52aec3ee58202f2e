package hub

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"codex-bridge/internal/agent"
	"codex-bridge/internal/pairing"
	"codex-bridge/internal/plan"
	"codex-bridge/internal/presence"
	"codex-bridge/internal/reasoning"
	"codex-bridge/internal/sessionlog"
	"codex-bridge/internal/translate"
)

const maxChatImages = 4

type Writer interface {
	Write(message []byte) error
	Close() error
}

// Connection is one live client socket with its authorization scope.
type Connection struct {
	ID         string
	DeviceID   string
	Loopback   bool
	Management bool
	Writer     Writer
}

// managementScope reports whether local-judgment events (pairing prompts,
// approval requests) may be delivered to this connection.
func (c *Connection) managementScope() bool {
	return c.Loopback || c.Management
}

// Hub owns the set of live connections: it fans agent events out by scope,
// routes client commands to the agent, tracks device presence, and enforces
// revocation.
type Hub struct {
	runner     agent.Runner
	plans      *plan.Store
	translator *translate.Service

	mu          sync.Mutex
	connections map[*Connection]struct{}
	activeRuns  map[string]string   // sessionID -> runID
	approvals   map[string][]string // sessionID -> pending approval ids

	presence  *presence.Tracker
	reasoning *reasoning.Tracker
}

func New(runner agent.Runner, plans *plan.Store, translator *translate.Service) *Hub {
	return &Hub{
		runner:      runner,
		plans:       plans,
		translator:  translator,
		connections: make(map[*Connection]struct{}),
		activeRuns:  make(map[string]string),
		approvals:   make(map[string][]string),
		presence:    presence.NewTracker(),
		reasoning:   reasoning.NewTracker(),
	}
}

// Register adds an authorized connection and announces presence if this is
// the device's first open socket.
func (h *Hub) Register(conn *Connection) {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}

	h.mu.Lock()
	h.connections[conn] = struct{}{}
	h.mu.Unlock()

	h.send(conn, NewEvent("bridge.connected", map[string]any{
		"connectionId": conn.ID,
		"management":   conn.managementScope(),
	}))

	if h.presence.Connected(conn.ID, conn.DeviceID) {
		h.BroadcastManagement(NewEvent("device.presence.updated", map[string]any{
			"deviceId": conn.DeviceID,
			"online":   true,
		}))
	}
}

// Unregister removes a connection. Other connections and pairing/device
// state are unaffected.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	delete(h.connections, conn)
	h.mu.Unlock()

	if deviceID, wentOffline := h.presence.Disconnected(conn.ID); wentOffline {
		h.BroadcastManagement(NewEvent("device.presence.updated", map[string]any{
			"deviceId": deviceID,
			"online":   false,
		}))
	}
}

// DeviceOnline reports whether a device has at least one open connection.
func (h *Hub) DeviceOnline(deviceID string) bool {
	return h.presence.Online(deviceID)
}

// CloseDevice force-closes every connection belonging to a revoked device.
func (h *Hub) CloseDevice(deviceID string) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return
	}

	h.mu.Lock()
	var victims []*Connection
	for conn := range h.connections {
		if strings.EqualFold(conn.DeviceID, deviceID) {
			victims = append(victims, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range victims {
		_ = conn.Writer.Close()
		h.Unregister(conn)
	}
}

// Broadcast delivers an envelope to every connection.
func (h *Hub) Broadcast(env Envelope) {
	h.deliver(env, func(*Connection) bool { return true })
}

// BroadcastManagement delivers an envelope only to local or management
// connections; remote device connections never see it.
func (h *Hub) BroadcastManagement(env Envelope) {
	h.deliver(env, (*Connection).managementScope)
}

func (h *Hub) deliver(env Envelope, permit func(*Connection) bool) {
	message := env.Encode()
	if message == nil {
		return
	}

	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.connections))
	for conn := range h.connections {
		if permit(conn) {
			conns = append(conns, conn)
		}
	}
	h.mu.Unlock()

	var failed []*Connection
	for _, conn := range conns {
		if err := conn.Writer.Write(message); err != nil {
			failed = append(failed, conn)
		}
	}
	for _, conn := range failed {
		_ = conn.Writer.Close()
		h.Unregister(conn)
	}
}

func (h *Hub) send(conn *Connection, env Envelope) {
	message := env.Encode()
	if message == nil {
		return
	}
	if err := conn.Writer.Write(message); err != nil {
		_ = conn.Writer.Close()
		h.Unregister(conn)
	}
}

func (h *Hub) sendError(conn *Connection, correlationID, message string) {
	env := NewEvent("bridge.error", map[string]any{"message": message})
	if correlationID != "" {
		env.Data["commandId"] = correlationID
	}
	h.send(conn, env)
}

// NotifyPairingRequested prompts local/management clients to approve or
// decline a pending pairing request.
func (h *Hub) NotifyPairingRequested(n pairing.Notification) {
	h.BroadcastManagement(NewEvent("device.pairing.requested", map[string]any{
		"requestId":   n.RequestID,
		"deviceName":  n.DeviceName,
		"platform":    n.Platform,
		"deviceModel": n.DeviceModel,
		"appVersion":  n.AppVersion,
		"clientIp":    n.ClientIP,
		"expiresAt":   n.ExpiresAt,
	}))
}

// Run consumes the agent event stream until the context ends or the stream
// closes. Relay faults surface as bridge.error events, never as a hub stop.
func (h *Hub) Run(ctx context.Context) {
	events := h.runner.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.handleAgentEvent(ctx, ev)
		}
	}
}

func (h *Hub) handleAgentEvent(ctx context.Context, ev agent.Event) {
	data := ev.Data
	if data == nil {
		data = map[string]any{}
	}
	if ev.SessionID != "" {
		data["sessionId"] = ev.SessionID
	}
	if ev.RunID != "" {
		data["runId"] = ev.RunID
	}

	switch ev.Name {
	case "run.reasoning.delta":
		itemID, _ := data["itemId"].(string)
		delta, _ := data["delta"].(string)
		index := asInt64(data["summaryIndex"])

		h.Broadcast(NewEvent(ev.Name, data))
		if part, ok := h.reasoning.AppendDelta(itemID, index, delta); ok {
			h.emitReasoningPart(ctx, ev.SessionID, part)
		}

	case "run.reasoning.completed":
		itemID, _ := data["itemId"].(string)
		var summary []string
		if rawList, ok := data["summary"].([]any); ok {
			for _, raw := range rawList {
				if text, ok := raw.(string); ok {
					summary = append(summary, text)
				}
			}
		}
		for _, part := range h.reasoning.FinalizeFromSummary(itemID, summary) {
			h.emitReasoningPart(ctx, ev.SessionID, part)
		}
		h.Broadcast(NewEvent(ev.Name, data))

	case "turn.plan.updated":
		h.plans.Upsert(planSnapshot(ev.SessionID, data))
		h.Broadcast(NewEvent(ev.Name, data))

	case "run.diff":
		diff, _ := data["diff"].(string)
		added, removed := DiffStats(diff)
		data["added"] = added
		data["removed"] = removed
		h.Broadcast(NewEvent(ev.Name, data))

	case "approval.requested":
		approvalID, _ := data["approvalId"].(string)
		if ev.SessionID != "" && approvalID != "" {
			h.mu.Lock()
			h.approvals[ev.SessionID] = append(h.approvals[ev.SessionID], approvalID)
			h.mu.Unlock()
		}
		h.BroadcastManagement(NewEvent(ev.Name, data))

	case "run.completed", "run.canceled", "run.failed", "run.rejected":
		h.finishRun(ctx, ev.SessionID)
		h.Broadcast(NewEvent(ev.Name, data))

	case "device.pairing.requested":
		h.BroadcastManagement(NewEvent(ev.Name, data))

	default:
		h.Broadcast(NewEvent(ev.Name, data))
	}
}

// finishRun clears the session's active run and declines whatever approvals
// the run left pending.
func (h *Hub) finishRun(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}

	h.mu.Lock()
	delete(h.activeRuns, sessionID)
	pending := h.approvals[sessionID]
	delete(h.approvals, sessionID)
	h.mu.Unlock()

	for _, approvalID := range pending {
		err := h.runner.RespondApproval(ctx, agent.ApprovalDecision{
			SessionID:  sessionID,
			ApprovalID: approvalID,
			Approved:   false,
		})
		if err != nil {
			log.Printf("hub: decline stale approval %s: %v", approvalID, err)
		}
		h.BroadcastManagement(NewEvent("approval.responded", map[string]any{
			"sessionId":  sessionID,
			"approvalId": approvalID,
			"approved":   false,
		}))
	}
}

func (h *Hub) emitReasoningPart(ctx context.Context, sessionID string, part reasoning.Part) {
	title, detail := sessionlog.SplitReasoningTitle(part.Text)
	h.Broadcast(NewEvent("run.reasoning.part", map[string]any{
		"sessionId": sessionID,
		"partId":    part.ID,
		"title":     title,
		"text":      detail,
	}))

	if h.translator == nil || !h.translator.Enabled() {
		return
	}
	go func() {
		entry, err := h.translator.TranslateReasoning(ctx, part.Text)
		if err != nil || entry == nil {
			return
		}
		h.Broadcast(NewEvent("run.reasoning.part.updated", map[string]any{
			"sessionId": sessionID,
			"partId":    part.ID,
			"title":     entry.Title,
			"text":      entry.Text,
			"locale":    entry.Locale,
		}))
	}()
}

// HandleEnvelope processes one raw inbound message from a connection.
// Anything that does not decode as a known envelope is dropped silently.
func (h *Hub) HandleEnvelope(ctx context.Context, conn *Connection, raw []byte) {
	env, ok := Decode(raw)
	if !ok || env.Type != TypeCommand {
		return
	}

	switch env.Name {
	case "chat.send":
		h.handleChatSend(ctx, conn, env)
	case "run.cancel":
		h.handleRunCancel(ctx, conn, env)
	case "approval.respond":
		h.handleApprovalRespond(ctx, conn, env)
	}
}

func (h *Hub) handleChatSend(ctx context.Context, conn *Connection, env Envelope) {
	sessionID, _ := env.Data["sessionId"].(string)
	text, _ := env.Data["text"].(string)
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(text) == "" {
		h.sendError(conn, env.ID, "sessionId and text are required")
		return
	}

	var images []string
	if rawList, ok := env.Data["images"].([]any); ok {
		for _, raw := range rawList {
			url, _ := raw.(string)
			url = strings.TrimSpace(url)
			if url == "" {
				continue
			}
			if !strings.HasPrefix(strings.ToLower(url), "data:image/") {
				h.sendError(conn, env.ID, "images must be data URLs")
				return
			}
			images = append(images, url)
		}
	}
	if len(images) > maxChatImages {
		h.sendError(conn, env.ID, "too many images")
		return
	}

	runID := uuid.NewString()
	h.mu.Lock()
	if _, active := h.activeRuns[sessionID]; active {
		h.mu.Unlock()
		h.sendError(conn, env.ID, "a run is already active for this session")
		return
	}
	h.activeRuns[sessionID] = runID
	h.mu.Unlock()

	err := h.runner.Start(ctx, agent.RunRequest{
		SessionID: sessionID,
		RunID:     runID,
		Text:      text,
		Images:    images,
	})
	if err != nil {
		h.mu.Lock()
		delete(h.activeRuns, sessionID)
		h.mu.Unlock()
		log.Printf("hub: start run for session %s: %v", sessionID, err)
		h.sendError(conn, env.ID, "failed to start run")
		return
	}

	h.Broadcast(NewEvent("chat.message", map[string]any{
		"sessionId": sessionID,
		"runId":     runID,
		"role":      "user",
		"text":      text,
		"images":    images,
	}))
}

func (h *Hub) handleRunCancel(ctx context.Context, conn *Connection, env Envelope) {
	sessionID, _ := env.Data["sessionId"].(string)
	if strings.TrimSpace(sessionID) == "" {
		h.sendError(conn, env.ID, "sessionId is required")
		return
	}

	h.mu.Lock()
	runID, active := h.activeRuns[sessionID]
	h.mu.Unlock()
	if !active {
		h.sendError(conn, env.ID, "no active run for this session")
		return
	}

	if err := h.runner.Cancel(ctx, sessionID, runID); err != nil {
		log.Printf("hub: cancel run %s: %v", runID, err)
		h.sendError(conn, env.ID, "failed to cancel run")
		return
	}
	h.Broadcast(NewEvent("run.cancel.requested", map[string]any{
		"sessionId": sessionID,
		"runId":     runID,
	}))
}

func (h *Hub) handleApprovalRespond(ctx context.Context, conn *Connection, env Envelope) {
	// Approvals are local human judgment; remote device connections cannot
	// answer them.
	if !conn.managementScope() {
		return
	}

	sessionID, _ := env.Data["sessionId"].(string)
	approvalID, _ := env.Data["approvalId"].(string)
	approved, _ := env.Data["approved"].(bool)
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(approvalID) == "" {
		h.sendError(conn, env.ID, "sessionId and approvalId are required")
		return
	}

	h.mu.Lock()
	pending := h.approvals[sessionID]
	found := false
	for i, id := range pending {
		if id == approvalID {
			h.approvals[sessionID] = append(pending[:i], pending[i+1:]...)
			found = true
			break
		}
	}
	h.mu.Unlock()
	if !found {
		h.sendError(conn, env.ID, "unknown approval request")
		return
	}

	err := h.runner.RespondApproval(ctx, agent.ApprovalDecision{
		SessionID:  sessionID,
		ApprovalID: approvalID,
		Approved:   approved,
	})
	if err != nil {
		log.Printf("hub: respond approval %s: %v", approvalID, err)
		h.sendError(conn, env.ID, "failed to deliver approval decision")
		return
	}
	h.BroadcastManagement(NewEvent("approval.responded", map[string]any{
		"sessionId":  sessionID,
		"approvalId": approvalID,
		"approved":   approved,
	}))
}

func planSnapshot(sessionID string, data map[string]any) plan.Snapshot {
	snapshot := plan.Snapshot{SessionID: sessionID}
	if sessionID == "" {
		snapshot.SessionID, _ = data["sessionId"].(string)
	}
	snapshot.TurnID, _ = data["turnId"].(string)
	snapshot.Explanation, _ = data["explanation"].(string)

	if rawSteps, ok := data["steps"].([]any); ok {
		for _, raw := range rawSteps {
			stepMap, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			step := plan.Step{}
			step.Text, _ = stepMap["text"].(string)
			if step.Text == "" {
				step.Text, _ = stepMap["step"].(string)
			}
			step.Status, _ = stepMap["status"].(string)
			snapshot.Steps = append(snapshot.Steps, step)
		}
	}
	return snapshot
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	default:
		return 0
	}
}
