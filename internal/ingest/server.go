// ABOUTME: WebSocket ingest server
// ABOUTME: Accepts remote capture streams, runs them through the engine and stores recordings
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/discovery"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/internal/storage"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/codec"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/convert"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/encode"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/stream"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/vad"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/transcode"
)

const (
	handshakeTimeout = 5 * time.Second
	writeDeadline    = 10 * time.Second
	pingInterval     = 30 * time.Second
	finishTimeout    = 30 * time.Second
	sendQueue        = 100
)

// Config holds server configuration
type Config struct {
	Port int
	Name string
	Path string
	MDNS bool

	// RTP enables the RTP Opus receiver when RTP.Port is set.
	RTP RTPConfig

	// Codec is the container every recording is stored as.
	Codec     codec.ID
	Encode    encode.Options
	Target    convert.Target
	VAD       *vad.Config // default gating; nil keeps everything
	VADWindow time.Duration
	Capacity  int
	Policy    *stream.Policy

	Recorder Recorder
}

// Server accepts ingest connections
type Server struct {
	config   Config
	engine   *transcode.Engine
	storage  storage.Store
	recorder Recorder

	serverID   string
	clockStart time.Time
	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	httpServer *http.Server
	rtp        *RTPReceiver
	mdns       *discovery.Manager

	clientsMu sync.RWMutex
	clients   map[string]*peer

	shutdownMu sync.RWMutex
	isShutdown bool

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// peer is one connected WebSocket client
type peer struct {
	ID   string
	Name string
	Conn *websocket.Conn

	sendChan chan interface{}
	sessions sync.WaitGroup

	mu      sync.Mutex
	active  *session
	packets uint64
	lastSeq uint64
}

// New creates a server storing recordings in store.
func New(config Config, engine *transcode.Engine, store storage.Store) *Server {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.Name == "" {
		config.Name = "resonate-transcoder"
	}
	if config.Codec == "" {
		config.Codec = codec.WAV
	}
	rec := config.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}

	s := &Server{
		config:     config,
		engine:     engine,
		storage:    store,
		recorder:   rec,
		serverID:   uuid.NewString(),
		clockStart: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		mux:      http.NewServeMux(),
		clients:  make(map[string]*peer),
		stopChan: make(chan struct{}),
	}
	s.mux.HandleFunc(config.Path, s.handleWebSocket)
	return s
}

// Handle mounts an extra handler, such as /metrics, next to the ingest endpoint.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler serves the ingest endpoint and anything mounted with Handle.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens and blocks until Stop is called or the listener fails.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}
	return s.Serve(ln)
}

// Serve runs the server on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	log.Infof("Starting ingest server %s on %s%s", s.config.Name, ln.Addr(), s.config.Path)

	if s.config.RTP.Port > 0 {
		rtp, err := s.ListenRTP(s.config.RTP)
		if err != nil {
			ln.Close()
			return err
		}
		s.clientsMu.Lock()
		s.rtp = rtp
		s.clientsMu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			rtp.Run(s.stopChan)
		}()
	}

	if s.config.MDNS {
		port := ln.Addr().(*net.TCPAddr).Port
		s.mdns = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        port,
			Path:        s.config.Path,
			RTPPort:     s.config.RTP.Port,
		})
		if err := s.mdns.Advertise(); err != nil {
			log.Warnf("Failed to start mDNS advertisement: %v", err)
		}
	}

	s.httpServer = &http.Server{Handler: s.mux}
	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-s.stopChan:
		log.Infof("Ingest server shutting down...")
	case err := <-errChan:
		log.Errorf("HTTP server error: %v", err)
		serverErr = err
	}

	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()
	s.Stop()

	if s.mdns != nil {
		s.mdns.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Warnf("HTTP server shutdown error: %v", err)
	}

	// Hijacked connections are not closed by Shutdown.
	s.clientsMu.RLock()
	for _, c := range s.clients {
		c.Conn.Close()
	}
	s.clientsMu.RUnlock()

	s.wg.Wait()
	log.Infof("Ingest server stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ClientInfo describes a connected client for status displays.
type ClientInfo struct {
	ID        string
	Name      string
	Session   string // empty when idle
	Packets   uint64
	Streaming bool
}

// Snapshot is the server state shown by the dashboard.
type Snapshot struct {
	Name        string
	Port        int
	RTPPort     int
	Clients     []ClientInfo
	RTPSessions int
}

// Snapshot returns the current clients and sessions, sorted by client name.
func (s *Server) Snapshot() Snapshot {
	snap := Snapshot{Name: s.config.Name, Port: s.config.Port, RTPPort: s.config.RTP.Port}

	s.clientsMu.RLock()
	for _, c := range s.clients {
		c.mu.Lock()
		info := ClientInfo{ID: c.ID, Name: c.Name, Packets: c.packets, Streaming: c.active != nil}
		if c.active != nil {
			info.Session = c.active.id
		}
		c.mu.Unlock()
		snap.Clients = append(snap.Clients, info)
	}
	rtp := s.rtp
	s.clientsMu.RUnlock()

	sort.Slice(snap.Clients, func(i, j int) bool { return snap.Clients[i].Name < snap.Clients[j].Name })
	if rtp != nil {
		snap.RTPSessions = rtp.Sessions()
	}
	return snap
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("WebSocket upgrade error: %v", err)
		return
	}
	log.Debugf("New WebSocket connection from %s", r.RemoteAddr)

	s.wg.Add(1)
	defer s.wg.Done()
	s.handleConnection(conn)
}

// handleConnection runs the handshake, then the read loop, for one peer.
func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	s.shutdownMu.RLock()
	shutdown := s.isShutdown
	s.shutdownMu.RUnlock()
	if shutdown {
		writeDirect(conn, TypeServerError, ServerError{Error: ErrShuttingDown, Message: "server is shutting down"})
		return
	}

	hello, err := readHello(conn)
	if err != nil {
		log.Warnf("Rejecting connection: %v", err)
		writeDirect(conn, TypeServerError, ServerError{Error: ErrBadHello, Message: err.Error()})
		return
	}

	client := &peer{
		ID:       hello.ClientID,
		Name:     hello.Name,
		Conn:     conn,
		sendChan: make(chan interface{}, sendQueue),
	}

	s.clientsMu.Lock()
	if existing, exists := s.clients[hello.ClientID]; exists {
		s.clientsMu.Unlock()
		log.Warnf("Client ID %s already connected (name: %s), rejecting duplicate", hello.ClientID, existing.Name)
		writeDirect(conn, TypeServerError, ServerError{Error: ErrDuplicateClient, Message: "Client ID already connected"})
		return
	}
	s.clients[client.ID] = client
	s.clientsMu.Unlock()
	log.Infof("Client connected: %s (ID: %s)", hello.Name, hello.ClientID)

	writerDone := make(chan struct{})
	defer func() {
		s.endStream(client, audio.Errorf(audio.DeviceError, "ingest", "connection closed mid-stream"))
		client.sessions.Wait()
		close(client.sendChan)
		<-writerDone

		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		s.clientsMu.Unlock()
		log.Infof("Client disconnected: %s", client.Name)
	}()

	go func() {
		defer close(writerDone)
		s.clientWriter(client)
	}()

	if err := s.sendMessage(client, TypeServerHello, ServerHello{
		ServerID: s.serverID,
		Name:     s.config.Name,
		Version:  ProtocolVersion,
		Codecs:   []string{"pcm", "opus"},
	}); err != nil {
		log.Warnf("Error sending server hello: %v", err)
		return
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("WebSocket error: %v", err)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.handleAudioFrame(client, data)
		case websocket.TextMessage:
			s.handleClientMessage(client, data)
		}
	}
}

func readHello(conn *websocket.Conn) (ClientHello, error) {
	var hello ClientHello

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return hello, fmt.Errorf("error reading hello: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return hello, fmt.Errorf("error unmarshaling message: %w", err)
	}
	if msg.Type != TypeClientHello {
		return hello, fmt.Errorf("expected %s, got %s", TypeClientHello, msg.Type)
	}
	if err := msg.Decode(&hello); err != nil {
		return hello, err
	}
	if hello.ClientID == "" {
		return hello, fmt.Errorf("client hello missing client_id")
	}
	if hello.Name == "" {
		return hello, fmt.Errorf("client hello missing name")
	}
	return hello, nil
}

// writeDirect writes one message before the writer goroutine exists.
func writeDirect(conn *websocket.Conn, msgType string, payload interface{}) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	conn.WriteJSON(msg)
}

// clientWriter sends queued messages and keeps the connection alive.
func (s *Server) clientWriter(client *peer) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.sendChan:
			if !ok {
				client.Conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
			client.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := client.Conn.WriteJSON(msg); err != nil {
				log.Warnf("Error writing to %s: %v", client.Name, err)
				// Keep draining so senders never block.
				for range client.sendChan {
				}
				return
			}

		case <-ticker.C:
			if err := client.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				for range client.sendChan {
				}
				return
			}
		}
	}
}

// handleClientMessage processes control messages from clients
func (s *Server) handleClientMessage(client *peer, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warnf("Error unmarshaling message from %s: %v", client.Name, err)
		return
	}

	switch msg.Type {
	case TypeClientTime:
		s.handleTimeSync(client, msg)
	case TypeStreamStart:
		s.handleStreamStart(client, msg)
	case TypeStreamEnd:
		if !s.endStream(client, nil) {
			s.sendError(client, ErrNoStream, "no stream is active")
		}
	default:
		log.Debugf("Unknown message type from %s: %s", client.Name, msg.Type)
	}
}

// handleTimeSync responds to time synchronization requests
func (s *Server) handleTimeSync(client *peer, msg Message) {
	serverRecv := s.clockMicros()

	var clientTime ClientTime
	if err := msg.Decode(&clientTime); err != nil {
		log.Warnf("Bad time sync from %s: %v", client.Name, err)
		return
	}

	if err := s.sendMessage(client, TypeServerTime, ServerTime{
		ClientTransmitted: clientTime.ClientTransmitted,
		ServerReceived:    serverRecv,
		ServerTransmitted: s.clockMicros(),
	}); err != nil {
		log.Warnf("Error sending server time: %v", err)
	}
}

func (s *Server) handleStreamStart(client *peer, msg Message) {
	var start StreamStart
	if err := msg.Decode(&start); err != nil {
		s.sendError(client, ErrBadFrame, err.Error())
		return
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.active != nil {
		s.sendError(client, ErrStreamActive, "a stream is already active")
		return
	}

	sess, err := s.startSession(TransportWebSocket, client.ID, start, func(id string, speech bool) {
		s.sendMessage(client, TypeServerSpeech, ServerSpeech{SessionID: id, Speech: speech})
	})
	if err != nil {
		s.recorder.IngestError(TransportWebSocket, audio.KindOf(err).String())
		s.sendError(client, audio.KindOf(err).String(), err.Error())
		return
	}
	client.active = sess
	client.packets = 0
	client.lastSeq = 0
	client.sessions.Add(1)
}

// endStream ends the active stream, if any, and reports its status
// asynchronously. A non-nil cause fails the stream instead of ending it.
func (s *Server) endStream(client *peer, cause error) bool {
	client.mu.Lock()
	sess := client.active
	client.active = nil
	client.mu.Unlock()
	if sess == nil {
		return false
	}

	if cause != nil {
		sess.device.Fail(cause)
	} else {
		sess.device.End()
	}

	go func() {
		defer client.sessions.Done()
		ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
		defer cancel()
		status := s.finishSession(ctx, sess)
		s.sendMessage(client, TypeServerStatus, status)
	}()
	return true
}

func (s *Server) handleAudioFrame(client *peer, data []byte) {
	s.recorder.PacketReceived(TransportWebSocket, len(data))

	frame, err := UnmarshalFrame(data)
	if err != nil {
		s.recorder.IngestError(TransportWebSocket, audio.CorruptStream.String())
		log.Warnf("Bad audio frame from %s: %v", client.Name, err)
		return
	}

	client.mu.Lock()
	sess := client.active
	if sess != nil {
		if client.packets > 0 && frame.Seq != client.lastSeq+1 {
			log.Warnf("Audio frame gap from %s: %d after %d", client.Name, frame.Seq, client.lastSeq)
		}
		client.lastSeq = frame.Seq
		client.packets++
	}
	client.mu.Unlock()

	if sess == nil {
		s.recorder.IngestError(TransportWebSocket, ErrNoStream)
		return
	}
	if frame.Timestamp > 0 {
		log.Debugf("Frame %d from %s: %dμs in flight", frame.Seq, client.Name, s.clockMicros()-frame.Timestamp)
	}

	if err := sess.device.Feed(frame.Data); err != nil {
		s.recorder.IngestError(TransportWebSocket, audio.KindOf(err).String())
		log.Warnf("Dropping frame %d from %s: %v", frame.Seq, client.Name, err)
	}
}

// sendMessage queues a JSON message for a client
func (s *Server) sendMessage(client *peer, msgType string, payload interface{}) error {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	select {
	case client.sendChan <- msg:
		return nil
	default:
		return fmt.Errorf("client send buffer full")
	}
}

func (s *Server) sendError(client *peer, code, message string) {
	if err := s.sendMessage(client, TypeServerError, ServerError{Error: code, Message: message}); err != nil {
		log.Warnf("Error sending error to %s: %v", client.Name, err)
	}
}

// clockMicros returns the server clock in microseconds
func (s *Server) clockMicros() int64 {
	return time.Since(s.clockStart).Microseconds()
}
