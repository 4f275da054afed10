package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	kerrors "github.com/kestrelbot/kestrel/pkg/errors"
	"go.uber.org/zap"
)

type ListenState int

const (
	ListenPre ListenState = iota
	// ListenEmpty means nothing was available; not an error.
	ListenEmpty
	HasLine
	// ListenWarning is a benign, recoverable socket fault.
	ListenWarning
	// ListenTimeout means the inactivity ceiling was exceeded. Fatal for
	// this connection.
	ListenTimeout
	ListenError
)

type ListenAttempt struct {
	State ListenState
	Line  []byte
	Err   error
}

type ListenerParams struct {
	Conn Conn

	// IdleTimeout is the inactivity ceiling: no complete line within
	// this window kills the connection.
	IdleTimeout time.Duration

	MaxLineLen int

	Logger *zap.Logger
}

// Listener is the only component that touches socket receive calls. A
// reader goroutine feeds results into a channel; Pump never blocks.
type Listener struct {
	params ListenerParams
	log    *zap.Logger

	results chan ListenAttempt
	done    chan struct{}
	started bool
}

func CreateListener(params ListenerParams) *Listener {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.IdleTimeout <= 0 {
		params.IdleTimeout = 5 * time.Minute
	}
	if params.MaxLineLen <= 0 {
		params.MaxLineLen = 4096
	}

	return &Listener{
		params:  params,
		log:     logger.With(zap.String("component", "listener")),
		results: make(chan ListenAttempt, 64),
		done:    make(chan struct{}),
	}
}

// Start launches the reader goroutine. It exits on a fatal read result or
// when the context is cancelled.
func (l *Listener) Start(ctx context.Context) {
	if l.started {
		return
	}
	l.started = true
	go l.readLoop(ctx)
}

// Pump yields one tagged result without blocking.
func (l *Listener) Pump() ListenAttempt {
	if !l.started {
		return ListenAttempt{State: ListenPre}
	}
	select {
	case att := <-l.results:
		return att
	default:
		return ListenAttempt{State: ListenEmpty}
	}
}

// Done reports that the reader goroutine has terminated on its own.
func (l *Listener) Done() bool {
	select {
	case <-l.done:
		// Drain anything yielded before termination first.
		return len(l.results) == 0
	default:
		return false
	}
}

func (l *Listener) readLoop(ctx context.Context) {
	defer close(l.done)

	reader := bufio.NewReaderSize(l.params.Conn, l.params.MaxLineLen)

	for {
		if ctx.Err() != nil {
			return
		}

		l.params.Conn.SetReadDeadline(time.Now().Add(l.params.IdleTimeout))

		raw, err := reader.ReadSlice('\n')
		if err != nil {
			if att, fatal := l.classify(raw, err); !l.emit(ctx, att) || fatal {
				return
			}
			continue
		}

		line := bytes.TrimRight(raw, "\r\n")
		if len(line) == 0 {
			continue
		}

		// ReadSlice reuses its buffer; hand out a copy.
		out := make([]byte, len(line))
		copy(out, line)

		if !l.emit(ctx, ListenAttempt{State: HasLine, Line: out}) {
			return
		}
	}
}

// classify maps a read error onto a tagged attempt, reporting whether it
// ends the reader.
func (l *Listener) classify(partial []byte, err error) (ListenAttempt, bool) {
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ListenAttempt{
			State: ListenTimeout,
			Err:   &kerrors.IdleTimeout{Limit: l.params.IdleTimeout},
		}, true

	case errors.Is(err, bufio.ErrBufferFull):
		return ListenAttempt{
			State: ListenError,
			Err:   &kerrors.LineTooLong{Limit: l.params.MaxLineLen},
		}, true

	case errors.Is(err, io.EOF):
		if len(partial) == 0 {
			return ListenAttempt{State: ListenError, Err: &kerrors.ConnectionClosed{}}, true
		}
		return ListenAttempt{
			State: ListenError,
			Err:   &kerrors.MalformedLine{Reason: "connection closed mid-line"},
		}, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Temporary() {
		return ListenAttempt{State: ListenWarning, Err: err}, false
	}

	return ListenAttempt{State: ListenError, Err: err}, true
}

func (l *Listener) emit(ctx context.Context, att ListenAttempt) bool {
	select {
	case l.results <- att:
		return true
	case <-ctx.Done():
		return false
	}
}
