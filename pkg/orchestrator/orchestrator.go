package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ResponseConfig holds the parameters of a response.create request. Zero
// fields fall back to the session defaults.
type ResponseConfig struct {
	Instructions      string
	Modalities        []string
	Voice             Voice
	OutputAudioFormat string
	Tools             []map[string]interface{}
	ToolChoice        string
	Temperature       *float64
	MaxOutputTokens   *int
}

// merge returns r with every set field of over applied on top.
func (r ResponseConfig) merge(over ResponseConfig) ResponseConfig {
	if over.Instructions != "" {
		r.Instructions = over.Instructions
	}
	if len(over.Modalities) > 0 {
		r.Modalities = over.Modalities
	}
	if over.Voice != "" {
		r.Voice = over.Voice
	}
	if over.OutputAudioFormat != "" {
		r.OutputAudioFormat = over.OutputAudioFormat
	}
	if len(over.Tools) > 0 {
		r.Tools = over.Tools
	}
	if over.ToolChoice != "" {
		r.ToolChoice = over.ToolChoice
	}
	if over.Temperature != nil {
		r.Temperature = over.Temperature
	}
	if over.MaxOutputTokens != nil {
		r.MaxOutputTokens = over.MaxOutputTokens
	}
	return r
}

func (r ResponseConfig) payload() map[string]interface{} {
	resp := map[string]interface{}{
		"modalities":          r.Modalities,
		"instructions":        r.Instructions,
		"voice":               string(r.Voice),
		"output_audio_format": r.OutputAudioFormat,
	}
	if r.Temperature != nil {
		resp["temperature"] = *r.Temperature
	}
	if r.MaxOutputTokens != nil {
		resp["max_output_tokens"] = *r.MaxOutputTokens
	}
	if len(r.Tools) > 0 {
		resp["tools"] = r.Tools
		resp["tool_choice"] = r.ToolChoice
	}
	return map[string]interface{}{"response": resp}
}

// Orchestrator owns one realtime session: the connection, the session
// state, and the coordination of recorder and player.
type Orchestrator struct {
	dialer   Dialer
	recorder *Recorder
	player   *Player
	config   Config
	logger   Logger
	id       string

	state   *StateStore
	bargeIn *BargeIn

	mu        sync.Mutex
	conn      Conn
	outbox    chan map[string]interface{}
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	eventSeq  uint64
	sink      TranscriptSink
	finalized map[string]bool
	observer  func(Event)
	response  ResponseConfig
	wg        sync.WaitGroup
}

// New creates an orchestrator. A nil recorder or player is replaced by a
// device-less one.
func New(dialer Dialer, recorder *Recorder, player *Player, config Config) *Orchestrator {
	return NewWithLogger(dialer, recorder, player, config, &NoOpLogger{})
}

// NewWithLogger creates an orchestrator with a custom logger
func NewWithLogger(dialer Dialer, recorder *Recorder, player *Player, config Config, logger Logger) *Orchestrator {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if recorder == nil {
		recorder = NewRecorder(nil, config.RecorderConfig(), logger)
	}
	if player == nil {
		player = NewPlayer(nil, config.PlayerConfig(), logger)
	}
	defaults := DefaultConfig()
	if config.OutboxSize <= 0 {
		config.OutboxSize = defaults.OutboxSize
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	done := make(chan struct{})
	close(done)

	o := &Orchestrator{
		dialer:    dialer,
		recorder:  recorder,
		player:    player,
		config:    config,
		logger:    logger,
		id:        uuid.NewString(),
		state:     NewStateStore(),
		done:      done,
		finalized: make(map[string]bool),
	}
	o.bargeIn = NewBargeIn(player, o.SendEvent, o.state, logger)

	recorder.SetSpeechDetectedCallback(func() { o.HandleBargeIn() })
	recorder.SetRecordingFinishedCallback(func(u Utterance) {
		if err := o.ProcessUtterance(u); err != nil {
			o.logger.Warn("failed to process utterance", "conversationID", o.id, "error", err)
		}
	})
	if config.EchoGuardThreshold > 0 {
		recorder.SetPlaybackActivity(player.LastRenderedAt)
	}
	if config.EchoSuppression {
		es := NewEchoSuppressor(config.CaptureSampleRate, logger)
		if config.EchoCorrelation > 0 {
			es.SetThreshold(config.EchoCorrelation)
		}
		recorder.SetEchoSuppressor(es)
		player.SetEchoSuppressor(es)
	}
	return o
}

// ID returns the conversation id used in logs and transcript names.
func (o *Orchestrator) ID() string {
	return o.id
}

// Recorder returns the voice activity recorder.
func (o *Orchestrator) Recorder() *Recorder {
	return o.recorder
}

// Player returns the playback engine.
func (o *Orchestrator) Player() *Player {
	return o.player
}

// BargeIn returns the interruption coordinator.
func (o *Orchestrator) BargeIn() *BargeIn {
	return o.bargeIn
}

// SetTranscriptSink enables transcript persistence.
func (o *Orchestrator) SetTranscriptSink(sink TranscriptSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sink = sink
}

// SetEventObserver registers fn to see every inbound event after it has
// been handled. Events dropped for a cancelled or completed response are
// not observed.
func (o *Orchestrator) SetEventObserver(fn func(Event)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observer = fn
}

// SetResponseConfig sets the session-level overrides used for responses
// created after an utterance.
func (o *Orchestrator) SetResponseConfig(cfg ResponseConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.response = cfg
}

// State returns a snapshot of the session state.
func (o *Orchestrator) State() SessionState {
	return o.state.Snapshot()
}

// Connect opens the session. It fails with ErrConnectTimeout when the
// connection is not open within ConnectTimeout.
func (o *Orchestrator) Connect(ctx context.Context) error {
	o.mu.Lock()
	if o.conn != nil {
		o.mu.Unlock()
		return ErrAlreadyConnected
	}
	o.mu.Unlock()

	type result struct {
		conn Conn
		err  error
	}

	dialCtx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()

	ch := make(chan result, 1)
	go func() {
		conn, err := o.dialer.Dial(dialCtx)
		ch <- result{conn, err}
	}()

	abandon := func() {
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
	}

	timer := time.NewTimer(o.config.ConnectTimeout)
	defer timer.Stop()

	var conn Conn
	select {
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("connect to realtime service: %w", r.err)
		}
		conn = r.conn
	case <-timer.C:
		abandon()
		o.logger.Error("connection timeout", "conversationID", o.id, "timeout", o.config.ConnectTimeout)
		return ErrConnectTimeout
	case <-ctx.Done():
		abandon()
		return ctx.Err()
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	outbox := make(chan map[string]interface{}, o.config.OutboxSize)

	o.mu.Lock()
	if o.conn != nil {
		o.mu.Unlock()
		cancel()
		conn.Close()
		return ErrAlreadyConnected
	}
	o.conn = conn
	o.outbox = outbox
	o.cancel = cancel
	o.done = make(chan struct{})
	o.err = nil
	o.finalized = make(map[string]bool)
	o.mu.Unlock()

	o.state.Reset()
	o.player.Start()

	o.wg.Add(2)
	go o.readLoop(sessCtx, conn)
	go o.writeLoop(sessCtx, conn, outbox)

	o.logger.Info("connected to realtime service", "conversationID", o.id)
	return nil
}

// Disconnect stops the recorder and player and closes the connection.
func (o *Orchestrator) Disconnect() error {
	o.mu.Lock()
	conn := o.conn
	if conn == nil {
		o.mu.Unlock()
		return nil
	}
	o.conn = nil
	done, cancel := o.done, o.cancel
	o.mu.Unlock()

	if err := o.recorder.StopListening(); err != nil {
		o.logger.Warn("error stopping recorder", "error", err)
	}
	if err := o.player.Stop(); err != nil {
		o.logger.Warn("error stopping player", "error", err)
	}

	cancel()
	err := conn.Close()
	close(done)
	o.waitLoops()

	o.logger.Info("disconnected from realtime service", "conversationID", o.id)
	return err
}

// Done is closed when the session ends, by Disconnect or connection loss.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Err returns the connection error that ended the last session, if any.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// IsConnected reports whether a session is open.
func (o *Orchestrator) IsConnected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn != nil
}

// Run listens for speech until ctx is done or the connection drops.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.IsConnected() {
		return ErrNotConnected
	}
	done := o.Done()

	if err := o.recorder.StartListening(ctx); err != nil {
		return fmt.Errorf("start listening: %w", err)
	}

	select {
	case <-ctx.Done():
		return o.Disconnect()
	case <-done:
		o.recorder.StopListening()
		o.player.Stop()
		return o.Err()
	}
}

// SendEvent queues an outbound event, stamping it with the next evt_<n> id.
// It never blocks; a full queue yields ErrSendQueueFull.
func (o *Orchestrator) SendEvent(eventType string, payload map[string]interface{}) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.conn == nil {
		return ErrNotConnected
	}

	o.eventSeq++
	msg := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		msg[k] = v
	}
	msg["type"] = eventType
	msg["event_id"] = fmt.Sprintf("evt_%d", o.eventSeq)

	select {
	case o.outbox <- msg:
	default:
		return ErrSendQueueFull
	}

	o.logger.Debug("sent event", "type", eventType, "eventID", msg["event_id"])
	return nil
}

// CreateResponse requests a response, applying cfg over the session
// defaults. State is marked as expecting audio only if the request was
// queued.
func (o *Orchestrator) CreateResponse(cfg ResponseConfig) error {
	o.mu.Lock()
	merged := o.defaultResponse().merge(o.response).merge(cfg)
	o.mu.Unlock()

	if err := o.SendEvent("response.create", merged.payload()); err != nil {
		return fmt.Errorf("create response: %w", err)
	}

	o.state.Update(func(s *SessionState) {
		s.ExpectingAudio = true
		s.FirstAudioChunk = true
	})
	o.logger.Info("requested response", "conversationID", o.id, "voice", merged.Voice)
	return nil
}

func (o *Orchestrator) defaultResponse() ResponseConfig {
	temp := o.config.Temperature
	maxTokens := o.config.MaxOutputTokens
	return ResponseConfig{
		Instructions:      o.config.Instructions,
		Modalities:        o.config.Modalities,
		Voice:             o.config.Voice,
		OutputAudioFormat: o.config.OutputAudioFormat,
		ToolChoice:        o.config.ToolChoice,
		Temperature:       &temp,
		MaxOutputTokens:   &maxTokens,
	}
}

// HandleBargeIn interrupts the assistant if it is speaking.
func (o *Orchestrator) HandleBargeIn() bool {
	return o.bargeIn.Handle()
}

// ProcessUtterance sends a finished utterance to the service and asks for a
// response. Only one utterance is processed at a time.
func (o *Orchestrator) ProcessUtterance(u Utterance) error {
	busy := false
	o.state.Update(func(s *SessionState) {
		if s.ProcessingInput {
			busy = true
			return
		}
		s.ProcessingInput = true
	})
	if busy {
		o.logger.Warn("already processing input, skipping utterance")
		return ErrBusy
	}

	fail := func(err error) error {
		o.state.Update(func(s *SessionState) { s.ProcessingInput = false })
		return err
	}

	if u.Len() == 0 {
		return fail(ErrNoAudio)
	}

	if o.state.Snapshot().AssistantSpeaking {
		o.player.ForceRestart()
		o.state.Update(func(s *SessionState) { s.AssistantSpeaking = false })
	}

	encoded := base64.StdEncoding.EncodeToString(u.WAV())
	o.logger.Info("processing recorded audio", "conversationID", o.id, "frames", u.Len(), "bytes", len(encoded))

	if err := o.SendEvent("input_audio_buffer.append", map[string]interface{}{"audio": encoded}); err != nil {
		return fail(fmt.Errorf("append input audio: %w", err))
	}
	if err := o.SendEvent("input_audio_buffer.commit", nil); err != nil {
		return fail(fmt.Errorf("commit input audio: %w", err))
	}
	if err := o.CreateResponse(ResponseConfig{}); err != nil {
		return fail(err)
	}

	o.recorder.ClearRecording()
	return nil
}

// Dispatch applies one inbound event. Handler panics are logged and
// swallowed so the receive loop survives a bad event.
func (o *Orchestrator) Dispatch(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic handling event", "type", ev.Type, "panic", r)
		}
	}()

	o.mu.Lock()
	hasSink := o.sink != nil
	observer := o.observer
	o.mu.Unlock()

	hc := HandlerContext{
		Recorder: o.recorder,
		Player:   o.player,
		State:    o.state.Snapshot(),
		Update:   o.state.Update,
		Send:     o.SendEvent,
		Retired:  o.state.Retired,
		Retire:   o.state.Retire,
		Logger:   o.logger,
	}
	if hasSink {
		hc.SaveTranscript = o.saveTranscript
	}

	if handleEvent(ev, hc) && observer != nil {
		observer(ev)
	}
}

// saveTranscript forwards to the sink, dropping anything written for a
// response after its final write.
func (o *Orchestrator) saveTranscript(responseID, text string, final bool) error {
	o.mu.Lock()
	sink := o.sink
	if sink == nil || o.finalized[responseID] {
		o.mu.Unlock()
		return nil
	}
	if final {
		o.finalized[responseID] = true
	}
	o.mu.Unlock()

	return sink.WriteTranscript(responseID, text, final)
}

func (o *Orchestrator) readLoop(ctx context.Context, conn Conn) {
	defer o.wg.Done()
	for {
		raw, err := conn.ReadEvent(ctx)
		if err != nil {
			o.connectionLost(conn, err)
			return
		}
		ev, err := ParseEvent(raw)
		if err != nil {
			o.logger.Warn("dropping malformed event", "error", err)
			continue
		}
		o.Dispatch(ev)
	}
}

func (o *Orchestrator) writeLoop(ctx context.Context, conn Conn, outbox <-chan map[string]interface{}) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-outbox:
			wctx, cancel := context.WithTimeout(ctx, o.config.WriteTimeout)
			err := conn.WriteEvent(wctx, msg)
			cancel()
			if err != nil {
				o.logger.Warn("failed to send event", "type", msg["type"], "eventID", msg["event_id"], "error", err)
			}
		}
	}
}

func (o *Orchestrator) connectionLost(conn Conn, err error) {
	o.mu.Lock()
	if o.conn != conn {
		o.mu.Unlock()
		return
	}
	o.conn = nil
	o.err = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	done, cancel := o.done, o.cancel
	o.mu.Unlock()

	cancel()
	conn.Close()
	close(done)
	o.logger.Error("connection to realtime service lost", "conversationID", o.id, "error", err)
}

func (o *Orchestrator) waitLoops() {
	finished := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		o.logger.Warn("session loops did not exit in time", "conversationID", o.id)
	}
}
