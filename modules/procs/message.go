package procs

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/types"
	"github.com/google/uuid"
)

// Message actions understood by subordinate processes.
const (
	ActionInit   = "init"
	ActionBuild  = "build"
	ActionExit   = "exit"
	ActionResult = "result"
)

// Result names reported by subordinate processes.
const (
	ResultReady = "ready"
	ResultBuilt = "built"
	ResultError = "error"
	ResultDone  = "done"
	ResultExit  = "exit"
)

const (
	eventTypePrefix = "com.dappkit.process."
	extResult       = "result"
	extError        = "error"
)

// Message is one structured message exchanged with a subordinate process.
// On the wire every message is a CloudEvent in structured JSON mode, one
// event per line.
type Message struct {
	Action  string
	Result  string
	Err     string
	Payload json.RawMessage
}

// NewMessage builds a message carrying payload encoded as JSON.
func NewMessage(action string, payload any) (Message, error) {
	m := Message{Action: action}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s payload: %w", action, err)
		}
		m.Payload = data
	}
	return m, nil
}

// NewResult builds a result message tagged with name. A non-nil err is
// carried as the message's error field.
func NewResult(name string, err error, payload any) (Message, error) {
	m, encErr := NewMessage(ActionResult, payload)
	if encErr != nil {
		return Message{}, encErr
	}
	m.Result = name
	if err != nil {
		m.Err = err.Error()
	}
	return m, nil
}

// Error returns the error carried by the message, or nil.
func (m Message) Error() error {
	if m.Err == "" {
		return nil
	}
	return errors.New(m.Err)
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

func (m Message) toEvent(source string) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()
	event.SetID(newEventID())
	event.SetSource(source)
	event.SetType(eventTypePrefix + m.Action)
	event.SetTime(time.Now())
	if m.Result != "" {
		event.SetExtension(extResult, m.Result)
	}
	if m.Err != "" {
		event.SetExtension(extError, m.Err)
	}
	if len(m.Payload) > 0 {
		if err := event.SetData(cloudevents.ApplicationJSON, []byte(m.Payload)); err != nil {
			return event, fmt.Errorf("set message data: %w", err)
		}
	}
	if err := event.Validate(); err != nil {
		return event, fmt.Errorf("invalid message event: %w", err)
	}
	return event, nil
}

func messageFromEvent(event cloudevents.Event) (Message, error) {
	action, ok := strings.CutPrefix(event.Type(), eventTypePrefix)
	if !ok || action == "" {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownMessageType, event.Type())
	}
	m := Message{Action: action}
	ext := event.Extensions()
	if v, ok := ext[extResult]; ok {
		s, err := types.ToString(v)
		if err != nil {
			return Message{}, fmt.Errorf("message result: %w", err)
		}
		m.Result = s
	}
	if v, ok := ext[extError]; ok {
		s, err := types.ToString(v)
		if err != nil {
			return Message{}, fmt.Errorf("message error: %w", err)
		}
		m.Err = s
	}
	if data := event.Data(); len(data) > 0 {
		m.Payload = append(json.RawMessage(nil), data...)
	}
	return m, nil
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// encoder writes newline-delimited message events. It is safe for
// concurrent use.
type encoder struct {
	mu     sync.Mutex
	w      io.Writer
	source string
}

func newEncoder(w io.Writer, source string) *encoder {
	return &encoder{w: w, source: source}
}

func (e *encoder) encode(m Message) error {
	event, err := m.toEvent(e.source)
	if err != nil {
		return err
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal message event: %w", err)
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(line)
	return err
}

// decoder reads newline-delimited message events.
type decoder struct {
	r *bufio.Reader
}

func newDecoder(r io.Reader) *decoder {
	return &decoder{r: bufio.NewReader(r)}
}

// decode returns the next message. io.EOF is returned once the stream ends
// cleanly; blank lines are skipped. A line that is not one of our message
// events yields an error wrapping ErrMalformedMessage and leaves the stream
// usable.
func (d *decoder) decode() (Message, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		if len(strings.TrimSpace(string(line))) > 0 {
			var event cloudevents.Event
			if uerr := json.Unmarshal(line, &event); uerr != nil {
				return Message{}, fmt.Errorf("%w: unmarshal message event: %w", ErrMalformedMessage, uerr)
			}
			m, merr := messageFromEvent(event)
			if merr != nil {
				return Message{}, fmt.Errorf("%w: %w", ErrMalformedMessage, merr)
			}
			return m, nil
		}
		if err != nil {
			return Message{}, err
		}
	}
}
