// Package orchestrator implements the Streaming Orchestrator (C5, spec.md
// §4.5): the model/tool loop that drives one conversational turn. The
// outer-loop / delta-accumulation / heartbeat-while-tool-runs shape is
// grounded on original_source/src/services/streaming/stream_orchestrator.py's
// stream_with_tools and run_stream (accumulate_tool_calls/finalize_tool_calls
// by index, run_with_heartbeat's "yield heartbeat every ~10s while the tool
// task isn't done" loop); the Go rendering replaces asyncio tasks/generators
// with a goroutine-fed channel and select-driven heartbeat/cancellation,
// following the teacher's internal/streaming/session.go readUpstream
// goroutine-plus-channel-broadcast shape for "a background goroutine produces
// a sequence a caller consumes over a channel."
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/frevagpt/orchestrator/internal/completion"
	"github.com/frevagpt/orchestrator/internal/logger"
	"github.com/frevagpt/orchestrator/internal/registry"
	"github.com/frevagpt/orchestrator/internal/streamvariant"
	"github.com/frevagpt/orchestrator/internal/toolmanager"
	"github.com/frevagpt/orchestrator/internal/toolresult"
)

const (
	defaultHeartbeatInterval  = 10 * time.Second
	defaultStateProbeInterval = 3 * time.Second
	toolNameCodeInterpreter   = "code_interpreter"
)

// Input is one conversational turn request (spec.md §4.5).
type Input struct {
	Model        string
	ThreadID     string
	UserInput    string
	SystemPrompt []streamvariant.ChatMessage
}

// Orchestrator drives the model/tool loop for a conversation (C5).
type Orchestrator struct {
	Registry   *registry.Registry
	Completion *completion.Client
	Storage    registry.ConversationSaver
	Log        *logger.Logger

	HeartbeatInterval  time.Duration
	StateProbeInterval time.Duration
}

// New builds an Orchestrator with spec.md-default intervals; override
// HeartbeatInterval/StateProbeInterval on the returned value if needed.
func New(reg *registry.Registry, comp *completion.Client, storage registry.ConversationSaver, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		Registry:           reg,
		Completion:         comp,
		Storage:            storage,
		Log:                log,
		HeartbeatInterval:  defaultHeartbeatInterval,
		StateProbeInterval: defaultStateProbeInterval,
	}
}

// Run drives one conversational turn, returning a channel of Stream Variants
// that closes when the turn finishes (spec.md §4.5: "a lazy, single-consumer
// sequence of Stream Variants; finite; not restartable"). ctx cancellation
// propagates cooperatively to any in-flight tool call.
func (o *Orchestrator) Run(ctx context.Context, in Input) <-chan streamvariant.Variant {
	out := make(chan streamvariant.Variant)
	go o.run(ctx, in, out)
	return out
}

func (o *Orchestrator) run(ctx context.Context, in Input, out chan<- streamvariant.Variant) {
	defer close(out)
	turnsStartedTotal.Inc()

	emit := func(v streamvariant.Variant) bool {
		select {
		case out <- v:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// Step A.
	if !emit(streamvariant.NewServerHint(map[string]interface{}{"thread_id": in.ThreadID})) {
		turnsEndedTotal.WithLabelValues("client_disconnected").Inc()
		return
	}
	userV := streamvariant.NewUser(in.UserInput)
	o.Registry.Add(in.ThreadID, userV)
	if !emit(userV) {
		turnsEndedTotal.WithLabelValues("client_disconnected").Inc()
		return
	}

	finished := false
	for !finished {
		state, ok := o.Registry.GetState(in.ThreadID)
		if !ok {
			turnsEndedTotal.WithLabelValues("conversation_missing").Inc()
			return
		}
		if state == registry.StateStopping {
			o.emitUserStop(in, emit)
			turnsEndedTotal.WithLabelValues("user_stop").Inc()
			return
		}
		if state != registry.StateStreaming {
			turnsEndedTotal.WithLabelValues("not_streaming").Inc()
			return
		}

		stopped, err := o.runTurnWithStopWatch(ctx, in, emit, &finished)
		if stopped {
			turnsEndedTotal.WithLabelValues("user_stop").Inc()
			return
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				// ctx is already done, so emit's select could drop this
				// terminator; a consumer still reading gets a bounded window.
				select {
				case out <- streamvariant.NewStreamEnd("Cancelled."):
				case <-time.After(o.probeInterval()):
				}
				o.Registry.Persist(context.Background(), in.ThreadID, o.Storage)
				turnsEndedTotal.WithLabelValues("cancelled").Inc()
				return
			}
			errV := streamvariant.NewServerError(err.Error())
			endV := streamvariant.NewStreamEnd("Stream ended with an error.")
			o.Registry.Add(in.ThreadID, errV)
			emit(errV)
			emit(endV)
			o.Registry.Persist(context.Background(), in.ThreadID, o.Storage)
			turnsEndedTotal.WithLabelValues("error").Inc()
			return
		}
	}
	o.Registry.Persist(context.Background(), in.ThreadID, o.Storage)
	turnsEndedTotal.WithLabelValues("completed").Inc()
}

// runTurnWithStopWatch runs one pass of Step B under a periodic state probe
// (Step C): if the conversation transitions to STOPPING mid-turn, the probe
// cancels the turn's context and this returns stopped=true after emitting the
// user-stop terminator, cancelling tool tasks, and persisting.
func (o *Orchestrator) runTurnWithStopWatch(
	ctx context.Context,
	in Input,
	emit func(streamvariant.Variant) bool,
	finished *bool,
) (stopped bool, err error) {
	turnCtx, cancelTurn := context.WithCancel(ctx)
	defer cancelTurn()

	watchDone := make(chan struct{})
	stopDetected := make(chan struct{}, 1)

	go func() {
		defer close(watchDone)
		ticker := time.NewTicker(o.probeInterval())
		defer ticker.Stop()
		for {
			select {
			case <-turnCtx.Done():
				return
			case <-ticker.C:
				if state, ok := o.Registry.GetState(in.ThreadID); ok && state == registry.StateStopping {
					select {
					case stopDetected <- struct{}{}:
					default:
					}
					cancelTurn()
					return
				}
			}
		}
	}()

	err = o.runStreamWithTools(turnCtx, in, emit, finished)
	cancelTurn()
	<-watchDone

	select {
	case <-stopDetected:
		o.emitUserStop(in, emit)
		return true, nil
	default:
		return false, err
	}
}

// emitUserStop terminates a turn in response to an out-of-band stop request
// (spec.md §4.5 Step C / request_stop), whether observed at the top of the
// outer loop or mid-turn by the watcher goroutine.
func (o *Orchestrator) emitUserStop(in Input, emit func(streamvariant.Variant) bool) {
	endV := streamvariant.NewStreamEnd("Stream is stopped by user.")
	o.Registry.Add(in.ThreadID, endV)
	emit(endV)
	o.Registry.CancelToolTasks(in.ThreadID)
	o.Registry.EndAndSave(context.Background(), in.ThreadID, o.Storage)
}

func (o *Orchestrator) probeInterval() time.Duration {
	if o.StateProbeInterval > 0 {
		return o.StateProbeInterval
	}
	return defaultStateProbeInterval
}

func (o *Orchestrator) heartbeatInterval() time.Duration {
	if o.HeartbeatInterval > 0 {
		return o.HeartbeatInterval
	}
	return defaultHeartbeatInterval
}

type toolCallAgg struct {
	ID   string
	Name string
	Args []byte
}

type finalizedToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// runStreamWithTools implements spec.md §4.5 Step B for a single outer-loop
// pass: one streaming completion, delta consumption, and (if the model
// requested them) the tool calls it finalized.
func (o *Orchestrator) runStreamWithTools(
	ctx context.Context,
	in Input,
	emit func(streamvariant.Variant) bool,
	finished *bool,
) error {
	history, _ := o.Registry.GetMessages(in.ThreadID)
	// appendTerminal=false: history is the in-progress turn, not a persisted
	// final state, so cleanup here only synthesizes missing CodeOutputs for a
	// Code left dangling by a crash-truncated earlier turn -- it must not
	// invent a StreamEnd mid-conversation.
	history = streamvariant.Cleanup(history, false, o.Log)
	includeImages := completion.SupportsImages(in.Model)
	// includeMeta=true: a web_search ToolOutput result only reaches the model
	// through this conversion (CodeOutput already renders as a tool message
	// regardless of includeMeta), so dropping meta variants here would make
	// tool results invisible on the continuation request.
	histMessages := streamvariant.ToChatMessages(history, includeImages, true, o.Log)

	messages := make([]streamvariant.ChatMessage, 0, len(in.SystemPrompt)+len(histMessages))
	messages = append(messages, in.SystemPrompt...)
	messages = append(messages, histMessages...)

	var tools []toolmanager.FunctionTool
	toolMgr, _ := o.Registry.GetToolManager(in.ThreadID)
	if toolMgr != nil {
		tools = toolMgr.ToolCatalogue()
	}

	stream, err := o.Completion.StreamChatCompletion(ctx, completion.Request{
		Model:      in.Model,
		Messages:   messages,
		Tools:      tools,
		ToolChoice: "auto",
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	var accumulatedText string
	agg := make(map[int]*toolCallAgg)

	for {
		delta, ok, err := stream.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		if delta.Content != "" {
			accumulatedText += delta.Content
			if !emit(streamvariant.NewAssistant(delta.Content, "")) {
				return ctx.Err()
			}
		}

		for _, tcDelta := range delta.ToolCalls {
			entry, exists := agg[tcDelta.Index]
			if !exists {
				entry = &toolCallAgg{}
				agg[tcDelta.Index] = entry
			}
			if tcDelta.ID != "" {
				entry.ID = tcDelta.ID
			}
			if tcDelta.Name != "" {
				entry.Name = tcDelta.Name
			}
			if tcDelta.ArgumentsChunk != "" {
				entry.Args = append(entry.Args, tcDelta.ArgumentsChunk...)
				if entry.Name == toolNameCodeInterpreter {
					if !emit(streamvariant.NewCode(tcDelta.ArgumentsChunk, entry.ID)) {
						return ctx.Err()
					}
				}
			}
		}

		if delta.FinishReason != "" {
			break
		}
	}

	if accumulatedText != "" {
		o.Registry.Add(in.ThreadID, streamvariant.NewAssistant(accumulatedText, ""))
	}

	toolCalls := finalizeToolCalls(agg)

	if len(toolCalls) == 0 {
		if !emit(streamvariant.NewStreamEnd("Stream ended.")) {
			return ctx.Err()
		}
		*finished = true
		return nil
	}

	for i, tc := range toolCalls {
		if err := o.runOneToolCall(ctx, in, i, tc, emit); err != nil {
			return err
		}
	}

	return nil
}

func finalizeToolCalls(agg map[int]*toolCallAgg) []finalizedToolCall {
	indices := make([]int, 0, len(agg))
	for idx := range agg {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	out := make([]finalizedToolCall, 0, len(indices))
	for _, idx := range indices {
		entry := agg[idx]
		out = append(out, finalizedToolCall{ID: entry.ID, Name: entry.Name, Arguments: string(entry.Args)})
	}
	return out
}

// runOneToolCall executes one finalized tool call with heartbeat interleaving
// (spec.md §4.5 step B.6), parses its result via C6, and appends the
// resulting variants to the conversation.
func (o *Orchestrator) runOneToolCall(ctx context.Context, in Input, index int, tc finalizedToolCall, emit func(streamvariant.Variant) bool) error {
	toolCtx, cancelTool := context.WithCancel(ctx)
	defer cancelTool()

	taskID := fmt.Sprintf("%s:%d", tc.ID, index)
	registered := o.Registry.RegisterToolTask(in.ThreadID, taskID, cancelTool)
	if registered {
		defer o.Registry.UnregisterToolTask(in.ThreadID, taskID)
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
		args = map[string]interface{}{"_raw": tc.Arguments}
	}

	type outcome struct {
		result json.RawMessage
		err    error
	}
	resultCh := make(chan outcome, 1)

	toolMgr, _ := o.Registry.GetToolManager(in.ThreadID)
	go func() {
		if toolMgr == nil {
			resultCh <- outcome{err: fmt.Errorf("no tool manager configured for conversation")}
			return
		}
		result, err := toolMgr.CallTool(toolCtx, "", tc.Name, args, nil)
		resultCh <- outcome{result: result, err: err}
	}()

	startedAt := time.Now()
	ticker := time.NewTicker(o.heartbeatInterval())
	defer ticker.Stop()

	var result outcome
	seq := 0
waitLoop:
	for {
		select {
		case result = <-resultCh:
			break waitLoop
		case <-ticker.C:
			seq++
			if !emit(heartbeatPayload(startedAt, seq)) {
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var resultRaw json.RawMessage
	if result.err != nil {
		toolCallsTotal.WithLabelValues(tc.Name, "error").Inc()
		errPayload, _ := json.Marshal(map[string]string{"error": result.err.Error()})
		resultRaw = errPayload
	} else {
		toolCallsTotal.WithLabelValues(tc.Name, "ok").Inc()
		resultRaw = result.result
	}

	newVariants := make([]streamvariant.Variant, 0, 4)

	// The consolidated Code event is appended to history only, not re-emitted
	// to the live stream: the client already saw it as incremental argument
	// fragments while the model was still generating them (the emits in the
	// accumulation loop above). original_source's stream_orchestrator.py
	// likewise only appends the consolidated SVCode to tc_variants/history.
	if tc.Name == toolNameCodeInterpreter {
		newVariants = append(newVariants, streamvariant.NewCode(tc.Arguments, tc.ID))
	}

	summary, parseErr := toolresult.Parse(resultRaw, tc.Name, tc.ID, o.Log)
	if parseErr != nil {
		errV := streamvariant.NewServerError(parseErr.Error())
		if !emit(errV) {
			return ctx.Err()
		}
		newVariants = append(newVariants, errV)
	} else {
		for _, v := range summary.Variants {
			if !emit(v) {
				return ctx.Err()
			}
		}
		newVariants = append(newVariants, summary.Variants...)
	}

	o.Registry.Add(in.ThreadID, newVariants...)
	return nil
}
