package conversation

import "time"

// event is anything the loop reacts to. All events are handled serially on
// the loop goroutine.
type event interface {
	kind() string
}

type startCmd struct{}

type stopCmd struct{}

type modeCmd struct {
	mode   BotMode
	toggle bool
}

// Recognition events carry the epoch of the Open call that produced them so
// late callbacks from a closed session are ignored.
type recognitionUpdate struct {
	epoch     uint64
	fragments []string
}

type recognitionError struct {
	epoch uint64
	code  string
}

type recognitionEnd struct {
	epoch uint64
}

type debounceExpired struct {
	seq uint64
}

// Async results carry the generation they were started under.
type agentReplied struct {
	gen     uint64
	mode    BotMode
	text    string
	err     error
	elapsed time.Duration
}

type synthesisComplete struct {
	gen uint64
	err error
}

type restartDue struct {
	gen uint64
	seq uint64
}

func (startCmd) kind() string          { return "start" }
func (stopCmd) kind() string           { return "stop" }
func (modeCmd) kind() string           { return "mode" }
func (recognitionUpdate) kind() string { return "recognition_update" }
func (recognitionError) kind() string  { return "recognition_error" }
func (recognitionEnd) kind() string    { return "recognition_end" }
func (debounceExpired) kind() string   { return "debounce_expired" }
func (agentReplied) kind() string      { return "agent_replied" }
func (synthesisComplete) kind() string { return "synthesis_complete" }
func (restartDue) kind() string        { return "restart_due" }

// recognitionSink adapts one Open call's callbacks onto the event queue.
type recognitionSink struct {
	l     *Loop
	epoch uint64
}

func (r recognitionSink) OnRecognitionUpdate(fragments []string) {
	cp := make([]string, len(fragments))
	copy(cp, fragments)
	r.l.post(recognitionUpdate{epoch: r.epoch, fragments: cp})
}

func (r recognitionSink) OnRecognitionError(code string) {
	r.l.post(recognitionError{epoch: r.epoch, code: code})
}

func (r recognitionSink) OnRecognitionEnd() {
	r.l.post(recognitionEnd{epoch: r.epoch})
}
