package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/streamx/pkg/streamx"
)

// sinkFormat selects how frames reach a client.
type sinkFormat string

const (
	// formatFrames forwards the msgpack frames untouched.
	formatFrames sinkFormat = "msgpack"
	// formatText decodes each frame and writes its content as text.
	formatText sinkFormat = "text"
)

func parseSinkFormat(s string) (sinkFormat, error) {
	switch sinkFormat(s) {
	case "", formatText:
		return formatText, nil
	case formatFrames:
		return formatFrames, nil
	}
	return "", fmt.Errorf("unknown stream format %q (want text or msgpack)", s)
}

// frameSink is a streamx.Sink over an io.Writer whose Done channel closes
// once the manager is finished with it.
type frameSink struct {
	inner  streamx.Sink
	format sinkFormat

	once sync.Once
	done chan struct{}
}

func newFrameSink(w io.Writer, format sinkFormat) *frameSink {
	return &frameSink{
		inner:  streamx.WriterSink(w),
		format: format,
		done:   make(chan struct{}),
	}
}

func (s *frameSink) Write(b []byte) error {
	if s.format == formatFrames {
		return s.inner.Write(b)
	}
	text, err := frameText(b)
	if err != nil {
		return err
	}
	return s.inner.Write([]byte(text))
}

func (s *frameSink) Close() error {
	var err error
	s.once.Do(func() {
		err = s.inner.Close()
		close(s.done)
	})
	return err
}

// Done is closed after Close.
func (s *frameSink) Done() <-chan struct{} {
	return s.done
}

// frameText renders one frame for humans. Text parts are written as is so
// a stream reads like the generated text.
func frameText(b []byte) (string, error) {
	f, err := streamx.DecodeFrame(b)
	if err != nil {
		return "", err
	}
	switch p := f.Chunk.Part.(type) {
	case streamx.Text:
		return string(p), nil
	case *streamx.Blob:
		return fmt.Sprintf("[blob %s %d bytes]\n", p.MIMEType, len(p.Data)), nil
	case streamx.Structured:
		js, err := json.Marshal(p)
		if err != nil {
			return "", err
		}
		return string(js) + "\n", nil
	case *streamx.ErrorPart:
		return fmt.Sprintf("\n[error %s] %s\n", p.Kind, p.Message), nil
	}
	return "", fmt.Errorf("unexpected part %T", f.Chunk.Part)
}

// noClose hides the Close method of a shared writer such as os.Stdout.
type noClose struct{ io.Writer }

// wsSink writes each frame as one websocket message: binary for msgpack
// frames, text otherwise.
type wsSink struct {
	conn   *websocket.Conn
	format sinkFormat

	mu   sync.Mutex
	once sync.Once
	done chan struct{}
}

func newWSSink(conn *websocket.Conn, format sinkFormat) *wsSink {
	return &wsSink{conn: conn, format: format, done: make(chan struct{})}
}

func (s *wsSink) Write(b []byte) error {
	msgType, payload := websocket.BinaryMessage, b
	if s.format == formatText {
		text, err := frameText(b)
		if err != nil {
			return err
		}
		msgType, payload = websocket.TextMessage, []byte(text)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(msgType, payload)
}

func (s *wsSink) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}

func (s *wsSink) Done() <-chan struct{} {
	return s.done
}
