package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/troikatech/crm-voicebot/internal/callcontext"
	"github.com/troikatech/crm-voicebot/internal/prompts"
	"github.com/troikatech/crm-voicebot/pkg/ai"
	"github.com/troikatech/crm-voicebot/pkg/audio"
	"github.com/troikatech/crm-voicebot/pkg/env"
	"github.com/troikatech/crm-voicebot/pkg/errors"
	"github.com/troikatech/crm-voicebot/pkg/logger"
	"github.com/troikatech/crm-voicebot/pkg/metrics"
)

// VoiceSession manages state for an active Exotel voice call session
type VoiceSession struct {
	CallSid           string
	StreamSid         string
	Conn              *websocket.Conn
	Context           *callcontext.CallContext
	History           []ai.Message
	AudioBuffer       *AudioBuffer
	GreetingAttempted bool
	GreetingSent      bool
	IsActive          bool
	Mu                sync.RWMutex
	ProcessingMu      sync.Mutex // Prevents concurrent STT→LLM→TTS processing
	SampleRate        int
}

// ExotelEvent represents the base structure for Exotel WebSocket events
type ExotelEvent struct {
	Event     string `json:"event"`
	StreamSid string `json:"stream_sid,omitempty"`
}

// StartEvent represents Exotel "start" event
type StartEvent struct {
	Event     string `json:"event"`
	StreamSid string `json:"stream_sid"`
	Start     struct {
		CallSid string `json:"call_sid"`
	} `json:"start"`
	CustomParameters map[string]interface{} `json:"custom_parameters,omitempty"`
}

// MediaEvent represents Exotel "media" event with base64-encoded PCM audio
type MediaEvent struct {
	Event     string `json:"event"`
	StreamSid string `json:"stream_sid"`
	Media     struct {
		Payload string `json:"payload"` // Base64-encoded PCM audio
	} `json:"media"`
}

// StopEvent represents Exotel "stop" event
type StopEvent struct {
	Event     string `json:"event"`
	StreamSid string `json:"stream_sid"`
}

// AudioBuffer accumulates caller audio until an utterance is likely
// complete, then releases it for transcription.
type AudioBuffer struct {
	mu          sync.Mutex
	chunks      [][]byte
	totalSize   int
	maxSize     int
	lastProcess time.Time
	sampleRate  int
}

// NewAudioBuffer creates a new audio buffer
func NewAudioBuffer(maxSize int, sampleRate int) *AudioBuffer {
	if sampleRate == 0 {
		sampleRate = 8000 // Exotel voicebot streams default to 8kHz
	}
	return &AudioBuffer{
		chunks:      make([][]byte, 0),
		maxSize:     maxSize,
		lastProcess: time.Now(),
		sampleRate:  sampleRate,
	}
}

// Append adds audio chunk to buffer
func (ab *AudioBuffer) Append(chunk []byte) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	ab.chunks = append(ab.chunks, chunk)
	ab.totalSize += len(chunk)
}

// GetData returns all buffered audio data
func (ab *AudioBuffer) GetData() []byte {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	result := make([]byte, 0, ab.totalSize)
	for _, chunk := range ab.chunks {
		result = append(result, chunk...)
	}
	return result
}

// IsReady checks if buffer is ready for processing.
// Process when the buffer is full OR 1.5 seconds passed since the last
// release (crude end-of-utterance detection).
func (ab *AudioBuffer) IsReady() bool {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return ab.totalSize >= ab.maxSize || time.Since(ab.lastProcess) >= 1500*time.Millisecond
}

// Drain returns all buffered audio and resets the buffer under a single
// lock, so a chunk appended between the read and the reset is never lost.
func (ab *AudioBuffer) Drain() []byte {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	result := make([]byte, 0, ab.totalSize)
	for _, chunk := range ab.chunks {
		result = append(result, chunk...)
	}
	ab.chunks = ab.chunks[:0]
	ab.totalSize = 0
	ab.lastProcess = time.Now()
	return result
}

// Clear clears the buffer
func (ab *AudioBuffer) Clear() {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	ab.chunks = ab.chunks[:0]
	ab.totalSize = 0
	ab.lastProcess = time.Now()
}

// sessions stores active voice sessions per call_sid
var sessions = make(map[string]*VoiceSession)
var sessionsMu sync.RWMutex

// connSID is the SID a connection's events are routed and finalized by.
// The start handshake may carry a more authoritative SID than the query
// string; once it re-keys the session, every later event and the
// finalizer must follow it.
type connSID struct {
	mu  sync.RWMutex
	sid string
}

func (c *connSID) get() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sid
}

func (c *connSID) set(sid string) {
	c.mu.Lock()
	c.sid = sid
	c.mu.Unlock()
}

func getOrCreateSession(callSid, streamSid string, conn *websocket.Conn, sampleRate int) *VoiceSession {
	sessionsMu.Lock()
	defer sessionsMu.Unlock()

	if session, exists := sessions[callSid]; exists {
		session.Mu.Lock()
		session.StreamSid = streamSid
		session.Conn = conn
		session.SampleRate = sampleRate
		session.Mu.Unlock()
		return session
	}

	if sampleRate == 0 {
		sampleRate = 8000
	}
	session := &VoiceSession{
		CallSid:     callSid,
		StreamSid:   streamSid,
		Conn:        conn,
		History:     make([]ai.Message, 0),
		AudioBuffer: NewAudioBuffer(16*1024, sampleRate), // ~1 second at 8kHz, 16-bit
		IsActive:    true,
		SampleRate:  sampleRate,
	}

	sessions[callSid] = session
	return session
}

func getSession(callSid string) *VoiceSession {
	sessionsMu.RLock()
	defer sessionsMu.RUnlock()
	return sessions[callSid]
}

func removeSession(callSid string) {
	sessionsMu.Lock()
	defer sessionsMu.Unlock()
	delete(sessions, callSid)
}

// createWebSocketUpgrader creates a secure WebSocket upgrader with origin validation
func createWebSocketUpgrader(cfg *env.Config) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")

			if cfg.AppEnv == "development" {
				return true
			}

			// Exotel media-stream connections come from their infrastructure
			allowedOrigins := []string{
				"https://my.exotel.com",
				"https://api.exotel.com",
				"https://" + cfg.ExotelSubdomain + ".exotel.com",
			}
			if cfg.VoicebotBaseURL != "" {
				allowedOrigins = append(allowedOrigins, cfg.VoicebotBaseURL)
			}

			for _, allowed := range allowedOrigins {
				if origin == allowed || origin == "" {
					return true
				}
			}

			logger.Log.Warn("WebSocket connection rejected - invalid origin",
				zap.String("origin", origin),
				zap.String("remote_addr", r.RemoteAddr),
			)
			return false
		},
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		EnableCompression: true,
	}
}

// VoicebotWebSocket handles the media-stream WebSocket from Exotel.
// Must be reachable via public wss:// URL; Exotel connects without
// authentication, so origin validation is the only gate.
func (h *Handler) VoicebotWebSocket(c *gin.Context) {
	callSid := c.Query("call_sid")
	if callSid == "" {
		callSid = c.Query("CallSid")
	}

	sampleRate := 8000
	if sr, err := strconv.Atoi(c.Query("sample-rate")); err == nil && sr > 0 {
		sampleRate = sr
	}

	if callSid == "" {
		errors.BadRequest(c, "call_sid is required")
		return
	}

	upgrader := createWebSocketUpgrader(h.cfg)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade to WebSocket",
			zap.Error(err),
			zap.String("call_sid", callSid),
			zap.String("origin", c.GetHeader("Origin")),
		)
		return
	}
	defer conn.Close()

	h.logger.Info("Voicebot WebSocket connection established",
		zap.String("call_sid", callSid),
	)
	metrics.RecordMediaSession()

	h.handleVoicebotConnection(conn, callSid, sampleRate)
}

// handleVoicebotConnection manages the WebSocket connection lifecycle.
// The deactivation of the call context runs on every exit path; a
// context row left active after its session ends would shadow the next
// call that reuses the SID.
func (h *Handler) handleVoicebotConnection(conn *websocket.Conn, callSid string, sampleRate int) {
	sid := &connSID{sid: callSid}
	defer func() {
		finalSid := sid.get()
		removeSession(finalSid)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.contextStore.Deactivate(ctx, finalSid); err != nil {
			h.logger.Warn("Failed to deactivate call context",
				zap.String("call_sid", finalSid),
				zap.Error(err),
			)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(54 * time.Second)
	defer pingTicker.Stop()

	done := make(chan struct{})

	// Exotel sends JSON events as text messages
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Error("WebSocket read error", zap.Error(err))
				}
				return
			}

			if messageType == websocket.TextMessage {
				h.handleExotelEvent(conn, sid, message, sampleRate)
			} else if messageType == websocket.PingMessage {
				conn.WriteMessage(websocket.PongMessage, nil)
			}
		}
	}()

	for {
		select {
		case <-done:
			h.logger.Info("Voicebot WebSocket connection closed",
				zap.String("call_sid", sid.get()),
			)
			return

		case <-pingTicker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Error("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// handleExotelEvent processes Exotel JSON events (start, media, stop, clear)
func (h *Handler) handleExotelEvent(conn *websocket.Conn, sid *connSID, message []byte, sampleRate int) {
	var event ExotelEvent
	if err := json.Unmarshal(message, &event); err != nil {
		h.logger.Warn("Failed to parse Exotel event", zap.Error(err), zap.String("raw", string(message)))
		return
	}

	switch event.Event {
	case "start":
		// The start event may re-key the session; later events and the
		// connection finalizer must follow the same SID.
		sid.set(h.handleStartEvent(conn, sid.get(), message, sampleRate))
	case "media":
		h.handleMediaEvent(sid.get(), message)
	case "stop":
		h.handleStopEvent(sid.get(), message)
	case "clear":
		h.handleClearEvent(sid.get())
	default:
		h.logger.Debug("Unknown Exotel event", zap.String("event", event.Event))
	}
}

// handleStartEvent creates the session, resolves its call context, and
// kicks off the greeting. It returns the SID the session was keyed
// under, which the caller must adopt for subsequent event routing.
func (h *Handler) handleStartEvent(conn *websocket.Conn, callSid string, message []byte, sampleRate int) string {
	var startEvent StartEvent
	if err := json.Unmarshal(message, &startEvent); err != nil {
		h.logger.Warn("Failed to parse start event", zap.Error(err))
		return callSid
	}

	// The handshake may carry a more authoritative SID than the query string
	if startEvent.Start.CallSid != "" {
		callSid = startEvent.Start.CallSid
	}

	session := getOrCreateSession(callSid, startEvent.StreamSid, conn, sampleRate)

	session.Mu.Lock()
	if session.GreetingAttempted {
		// A duplicated start event must not inject a second greeting
		session.Mu.Unlock()
		return callSid
	}
	session.GreetingAttempted = true
	if session.Context == nil {
		session.Context = h.resolveCallContext(callSid)
	}
	session.Mu.Unlock()

	h.logger.Info("Handling start event, sending greeting",
		zap.String("call_sid", callSid),
		zap.String("stream_sid", startEvent.StreamSid),
		zap.String("language", session.Context.Language),
		zap.Int("sample_rate", sampleRate),
	)

	go h.sendGreeting(session)
	return callSid
}

// resolveCallContext looks up the context stored at dial time. Both a
// missing row and an unreachable store degrade to a default context:
// the caller is already on the line, so a generic session beats a drop.
func (h *Handler) resolveCallContext(callSid string) *callcontext.CallContext {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cc, err := h.contextStore.Get(ctx, callSid)
	if err != nil {
		h.logger.Error("Call context store unreachable, using defaults",
			zap.String("call_sid", callSid),
			zap.Error(err),
		)
	} else if cc == nil {
		h.logger.Warn("No call context found, using defaults",
			zap.String("call_sid", callSid),
		)
	} else {
		if cc.Language == "" {
			cc.Language = h.cfg.DefaultLanguage
		}
		return cc
	}

	return &callcontext.CallContext{
		CallSID:  callSid,
		Language: h.cfg.DefaultLanguage,
	}
}

// sendGreeting synthesizes the greeting in the caller's language and
// streams it as chunked PCM. The greeting flag and the history append
// happen only after the full stream succeeds; a partial greeting is
// treated as not sent at all.
func (h *Handler) sendGreeting(session *VoiceSession) {
	session.Mu.RLock()
	cc := session.Context
	session.Mu.RUnlock()

	greetingText := prompts.Greeting(cc.Language, cc.ClientName, cc.AppName)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := h.streamTTS(ctx, session, greetingText, "greeting_done")
	if err != nil {
		// Not fatal: the conversation loop still works without a greeting
		h.logger.Warn("Greeting synthesis failed, continuing without greeting",
			zap.String("call_sid", session.CallSid),
			zap.Error(err),
		)
		return
	}

	session.Mu.Lock()
	session.GreetingSent = true
	session.History = append(session.History, ai.Message{Role: "assistant", Content: greetingText})
	session.Mu.Unlock()

	metrics.RecordGreeting()
	h.logger.Info("Greeting sent",
		zap.String("call_sid", session.CallSid),
		zap.String("language", cc.Language),
	)
}

// handleMediaEvent buffers inbound caller audio and triggers the
// STT→LLM→TTS turn when the buffer signals an utterance boundary.
func (h *Handler) handleMediaEvent(callSid string, message []byte) {
	var mediaEvent MediaEvent
	if err := json.Unmarshal(message, &mediaEvent); err != nil {
		h.logger.Warn("Failed to parse media event", zap.Error(err))
		return
	}

	session := getSession(callSid)
	if session == nil {
		h.logger.Warn("No session found for media event", zap.String("call_sid", callSid))
		return
	}

	pcmData, err := audio.DecodeBase64PCM(mediaEvent.Media.Payload)
	if err != nil {
		h.logger.Warn("Failed to decode base64 PCM", zap.Error(err))
		return
	}

	session.AudioBuffer.Append(pcmData)

	if session.AudioBuffer.IsReady() {
		if !session.ProcessingMu.TryLock() {
			return
		}
		go func() {
			defer session.ProcessingMu.Unlock()
			h.processAudioBuffer(session)
		}()
	}
}

// processAudioBuffer runs one conversation turn. A transcription miss
// just waits for more audio; an LLM or TTS failure is session-fatal and
// closes the connection so the finalizer runs.
func (h *Handler) processAudioBuffer(session *VoiceSession) {
	audioData := session.AudioBuffer.Drain()
	if len(audioData) == 0 {
		return
	}

	userText := h.transcribe(session, audioData)
	if userText == "" {
		return
	}

	h.logger.Info("Caller utterance transcribed",
		zap.String("call_sid", session.CallSid),
		zap.String("text", userText),
	)

	session.Mu.Lock()
	cc := session.Context
	history := make([]ai.Message, len(session.History))
	copy(history, session.History)
	session.Mu.Unlock()

	if cc == nil {
		cc = h.resolveCallContext(session.CallSid)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.AITimeout())
	defer cancel()

	reply, err := h.aiManager.GenerateReply(ctx, &ai.ConversationRequest{
		SystemPrompt: prompts.SystemPrompt(cc.Language, cc.AppName, cc.Reason, cc.ClientName),
		History:      history,
		UserText:     userText,
	})
	if err != nil {
		h.logger.Error("Conversation turn failed, terminating session",
			zap.String("call_sid", session.CallSid),
			zap.Error(err),
		)
		h.terminateSession(session)
		return
	}

	session.Mu.Lock()
	session.History = append(session.History,
		ai.Message{Role: "user", Content: userText},
		ai.Message{Role: "assistant", Content: reply},
	)
	session.Mu.Unlock()

	ttsCtx, ttsCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer ttsCancel()
	if err := h.streamTTS(ttsCtx, session, reply, "response_done"); err != nil {
		h.logger.Error("Response synthesis failed, terminating session",
			zap.String("call_sid", session.CallSid),
			zap.Error(err),
		)
		h.terminateSession(session)
	}
}

// transcribe converts buffered PCM into text via Whisper. Empty text is
// a normal outcome for silence or noise.
func (h *Handler) transcribe(session *VoiceSession, audioData []byte) string {
	session.Mu.RLock()
	sampleRate := session.SampleRate
	var language string
	if session.Context != nil {
		language = session.Context.Language
	}
	session.Mu.RUnlock()

	wavData := audio.PCMToWAV(audioData, sampleRate)

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.AITimeout())
	defer cancel()

	sttResp, err := h.sttService.SpeechToText(ctx, &ai.STTRequest{
		AudioData:   wavData,
		AudioFormat: "wav",
		Language:    prompts.ISOCode(language),
	})
	if err != nil {
		h.logger.Warn("Transcription failed", zap.String("call_sid", session.CallSid), zap.Error(err))
		return ""
	}
	if sttResp == nil {
		return ""
	}
	return sttResp.Text
}

// streamTTS synthesizes text and forwards PCM chunks to Exotel as they
// arrive, closing with a mark event so Exotel can signal playback end.
func (h *Handler) streamTTS(ctx context.Context, session *VoiceSession, text string, markName string) error {
	session.Mu.RLock()
	conn := session.Conn
	streamSid := session.StreamSid
	session.Mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("no connection for call %s", session.CallSid)
	}

	chunkCount := 0
	sendChunk := func(chunk []byte) error {
		mediaEvent := map[string]interface{}{
			"event":      "media",
			"stream_sid": streamSid,
			"media": map[string]interface{}{
				"payload": audio.EncodePCMChunkToBase64(chunk),
			},
		}
		eventJSON, err := json.Marshal(mediaEvent)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.TextMessage, eventJSON); err != nil {
			return err
		}
		chunkCount++
		return nil
	}

	if strings.HasPrefix(h.cfg.ElevenLabsOutputFormat, "mp3") {
		// mp3 frames cannot be cut at fixed byte offsets; render the
		// whole utterance, convert, then chunk the PCM.
		mp3Data, err := h.ttsService.TextToSpeech(ctx, &ai.TTSRequest{Text: text})
		if err != nil {
			return err
		}
		pcmData, err := audio.ConvertMP3ToPCM(mp3Data)
		if err != nil {
			return err
		}
		for _, chunk := range audio.ChunkPCM(pcmData, audio.DefaultChunkSize) {
			if err := sendChunk(chunk); err != nil {
				return err
			}
		}
	} else if err := h.ttsService.TextToSpeechStream(ctx, &ai.TTSRequest{Text: text}, audio.DefaultChunkSize, sendChunk); err != nil {
		return err
	}

	markEvent := map[string]interface{}{
		"event":      "mark",
		"stream_sid": streamSid,
		"mark": map[string]interface{}{
			"name": markName,
		},
	}
	markJSON, err := json.Marshal(markEvent)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, markJSON); err != nil {
		return err
	}

	h.logger.Info("Streamed PCM audio",
		zap.String("call_sid", session.CallSid),
		zap.Int("chunks", chunkCount),
		zap.String("mark", markName),
	)
	return nil
}

// terminateSession closes the connection; the connection handler's
// finalizer does the cleanup and context deactivation.
func (h *Handler) terminateSession(session *VoiceSession) {
	session.Mu.Lock()
	session.IsActive = false
	conn := session.Conn
	session.Mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session error"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

// handleClearEvent processes Exotel "clear" event for barge-in support
func (h *Handler) handleClearEvent(callSid string) {
	h.logger.Info("Handling clear event (barge-in)",
		zap.String("call_sid", callSid),
	)

	session := getSession(callSid)
	if session != nil {
		session.AudioBuffer.Clear()
	}
}

// handleStopEvent processes Exotel "stop" event
func (h *Handler) handleStopEvent(callSid string, message []byte) {
	var stopEvent StopEvent
	if err := json.Unmarshal(message, &stopEvent); err != nil {
		h.logger.Warn("Failed to parse stop event", zap.Error(err))
		return
	}

	h.logger.Info("Handling stop event",
		zap.String("call_sid", callSid),
		zap.String("stream_sid", stopEvent.StreamSid),
	)

	session := getSession(callSid)
	if session != nil {
		session.Mu.Lock()
		session.IsActive = false
		session.Mu.Unlock()
	}
	// Cleanup and context deactivation happen when the connection closes
}
