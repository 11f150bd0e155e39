package api

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/smnsjas/go-nvimcore/session"
	"github.com/smnsjas/go-nvimcore/wire"
)

type entityKind int

const (
	kindUnknown entityKind = iota
	kindBuffer
	kindWindow
	kindTabpage
)

// Option configures an Nvim facade before the handshake runs.
type Option func(*Nvim)

// WithTextDecoding controls whether raw byte payloads from the host are
// normalized to Go strings during decoding. It is on by default; turn
// it off to receive []byte and handle non-UTF-8 data yourself.
func WithTextDecoding(enabled bool) Option {
	return func(v *Nvim) { v.textDecode = enabled }
}

// Nvim is the typed surface over one session with an Nvim host. It is
// created with FromSession, which performs the api-info handshake and
// learns the host's ext type tags. All methods are safe for concurrent
// use, with the same restrictions as the underlying session: host
// state is only safely touched from the dispatch loop, so code running
// on other goroutines should go through AsyncCall.
type Nvim struct {
	s          *session.Session
	textDecode bool

	channelID int
	metadata  map[string]any
	types     map[int8]entityKind

	// Host-level collections, ready after FromSession returns.
	Vars     *RemoteMap
	VVars    *RemoteMap
	Options  *RemoteMap
	Buffers  *RemoteSequence
	Windows  *RemoteSequence
	Tabpages *RemoteSequence
	Current  *Current
}

// FromSession runs the api-info handshake on an established session and
// returns the typed facade. The handshake is the only hard-coded use of
// the protocol: everything later routes through the type registry it
// builds here. The registry is immutable afterwards, so decoding needs
// no synchronization.
func FromSession(s *session.Session, opts ...Option) (*Nvim, error) {
	v := &Nvim{
		s:          s,
		textDecode: true,
		types:      make(map[int8]entityKind),
	}
	for _, opt := range opts {
		opt(v)
	}

	res, err := s.Request("vim_get_api_info")
	if err != nil {
		return nil, fmt.Errorf("query api info: %w", err)
	}
	info, ok := v.fromWire(res).([]any)
	if !ok || len(info) != 2 {
		return nil, unexpectedType("[channel-id, metadata] pair", res)
	}
	v.channelID, err = asInt(info[0])
	if err != nil {
		return nil, fmt.Errorf("channel id: %w", err)
	}
	v.metadata, ok = info[1].(map[string]any)
	if !ok {
		return nil, unexpectedType("metadata map", info[1])
	}

	typesMeta, ok := v.metadata["types"].(map[string]any)
	if !ok {
		return nil, errors.New("api info carries no type declarations")
	}
	for name, kind := range map[string]entityKind{
		"Buffer":  kindBuffer,
		"Window":  kindWindow,
		"Tabpage": kindTabpage,
	} {
		entry, ok := typesMeta[name].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("api info does not declare type %s", name)
		}
		id, err := asInt(entry["id"])
		if err != nil {
			return nil, fmt.Errorf("type %s: %w", name, err)
		}
		v.types[int8(id)] = kind
	}

	v.Vars = newRemoteMap(v, "vim_get_var", "vim_set_var")
	v.VVars = newRemoteMap(v, "vim_get_vvar", "")
	v.Options = newRemoteMap(v, "vim_get_option", "vim_set_option")
	v.Buffers = newRemoteSequence(v, "vim_get_buffers")
	v.Windows = newRemoteSequence(v, "vim_get_windows")
	v.Tabpages = newRemoteSequence(v, "vim_get_tabpages")
	v.Current = &Current{v: v}
	return v, nil
}

// Session exposes the underlying session for lifecycle control.
func (v *Nvim) Session() *session.Session {
	return v.s
}

// ChannelID is the id the host assigned to this client's channel.
func (v *Nvim) ChannelID() int {
	return v.channelID
}

// Metadata is the raw api metadata returned by the handshake.
func (v *Nvim) Metadata() map[string]any {
	return v.metadata
}

// Close tears down the underlying session and its transport.
func (v *Nvim) Close() error {
	return v.s.Close()
}

// Request issues a blocking request. Arguments are translated to wire
// form (handles collapse to their references) and the result is
// translated back (registered references become typed handles).
func (v *Nvim) Request(method string, args ...any) (any, error) {
	res, err := v.s.Request(method, v.toWireSlice(args)...)
	if err != nil {
		return nil, err
	}
	return v.fromWire(res), nil
}

// Notify sends a fire-and-forget notification.
func (v *Nvim) Notify(method string, args ...any) error {
	return v.s.Notify(method, v.toWireSlice(args)...)
}

// RunLoop blocks dispatching inbound requests and notifications until
// StopLoop is called or the connection is lost. Handler arguments are
// delivered in translated form and request results are translated back
// before the response goes out. Either handler may be nil.
func (v *Nvim) RunLoop(onRequest func(name string, args []any) (any, error), onNotification func(name string, args []any), onSetup func()) error {
	var reqHandler session.RequestHandler
	if onRequest != nil {
		reqHandler = func(name string, args []any) (any, error) {
			result, err := onRequest(name, v.fromWireSlice(args))
			if err != nil {
				return nil, err
			}
			return v.toWire(result), nil
		}
	}
	var notifHandler session.NotificationHandler
	if onNotification != nil {
		notifHandler = func(name string, args []any) {
			onNotification(name, v.fromWireSlice(args))
		}
	}
	return v.s.Run(reqHandler, notifHandler, onSetup)
}

// StopLoop asks a concurrent RunLoop to return.
func (v *Nvim) StopLoop() {
	v.s.Stop()
}

// NextMessage blocks for the next inbound request or notification, for
// callers that prefer pull-style consumption over RunLoop. Arguments
// are delivered in translated form.
func (v *Nvim) NextMessage() (*wire.Message, error) {
	msg, err := v.s.NextMessage()
	if err != nil {
		return nil, err
	}
	msg.Args = v.fromWireSlice(msg.Args)
	return msg, nil
}

// AsyncCall hands fn to the dispatch loop goroutine, where it can touch
// host state without racing inbound handlers. If fn panics, the error
// is pushed to the host's error stream together with the call site
// that scheduled it, then reported through the session's error handler.
func (v *Nvim) AsyncCall(fn func()) {
	site := callSite(2)
	v.s.Schedule(func() {
		defer func() {
			if r := recover(); r != nil {
				_ = v.Notify("vim_err_write", fmt.Sprintf(
					"error caught while executing async callback:\n%v\nthe call was requested at\n%s\n", r, site))
				panic(r)
			}
		}()
		fn()
	})
}

func callSite(skip int) string {
	pc := make([]uintptr, 1)
	if runtime.Callers(skip+1, pc) == 0 {
		return "unknown"
	}
	frame, _ := runtime.CallersFrames(pc).Next()
	return fmt.Sprintf("%s:%d", frame.File, frame.Line)
}

// Command executes a single ex command.
func (v *Nvim) Command(cmd string) error {
	_, err := v.Request("vim_command", cmd)
	return err
}

// CommandOutput executes a single ex command and returns its output.
func (v *Nvim) CommandOutput(cmd string) (string, error) {
	res, err := v.Request("vim_command_output", cmd)
	if err != nil {
		return "", err
	}
	return asString(res)
}

// Eval evaluates a vimscript expression.
func (v *Nvim) Eval(expr string) (any, error) {
	return v.Request("vim_eval", expr)
}

// Call invokes a vimscript function with the given arguments.
func (v *Nvim) Call(fname string, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	return v.Request("vim_call_function", fname, args)
}

// Strwidth returns the display width of text in cells.
func (v *Nvim) Strwidth(text string) (int, error) {
	res, err := v.Request("vim_strwidth", text)
	if err != nil {
		return 0, err
	}
	return asInt(res)
}

// ListRuntimePaths returns the paths on the host's runtimepath.
func (v *Nvim) ListRuntimePaths() ([]string, error) {
	res, err := v.Request("vim_list_runtime_paths")
	if err != nil {
		return nil, err
	}
	return asStrings(res)
}

// Chdir changes the host's working directory.
func (v *Nvim) Chdir(dir string) error {
	_, err := v.Request("vim_change_directory", dir)
	return err
}

// Feedkeys pushes keys into the host's input buffer. The options string
// uses the same flags as the feedkeys() vimscript function.
func (v *Nvim) Feedkeys(keys, options string, escapeCSI bool) error {
	_, err := v.Request("vim_feedkeys", keys, options, escapeCSI)
	return err
}

// Input queues raw user input and returns how many bytes were written,
// which can be less than len(keys) if the host's buffer is full.
func (v *Nvim) Input(keys string) (int, error) {
	res, err := v.Request("vim_input", keys)
	if err != nil {
		return 0, err
	}
	return asInt(res)
}

// ReplaceTermcodes replaces <Key> notation and termcodes in a string,
// typically to prepare it for Feedkeys.
func (v *Nvim) ReplaceTermcodes(text string, fromPart, doLT, special bool) (string, error) {
	res, err := v.Request("vim_replace_termcodes", text, fromPart, doLT, special)
	if err != nil {
		return "", err
	}
	return asString(res)
}

// OutWrite prints text to the host's output stream. Lines are buffered
// host-side until a trailing newline.
func (v *Nvim) OutWrite(text string) error {
	_, err := v.Request("vim_out_write", text)
	return err
}

// ErrWrite prints text to the host's error stream.
func (v *Nvim) ErrWrite(text string) error {
	_, err := v.Request("vim_err_write", text)
	return err
}

// ErrWriteAsync is ErrWrite as a notification, for error reporting from
// contexts that cannot block on a response.
func (v *Nvim) ErrWriteAsync(text string) error {
	return v.Notify("vim_err_write", text)
}

// Subscribe subscribes this channel to broadcast events with the given
// name.
func (v *Nvim) Subscribe(event string) error {
	_, err := v.Request("vim_subscribe", event)
	return err
}

// Unsubscribe removes a Subscribe registration.
func (v *Nvim) Unsubscribe(event string) error {
	_, err := v.Request("vim_unsubscribe", event)
	return err
}

// UIAttach registers this channel as a UI of the given size.
func (v *Nvim) UIAttach(width, height int, rgb bool) error {
	_, err := v.Request("ui_attach", width, height, rgb)
	return err
}

// UIDetach unregisters this channel as a UI.
func (v *Nvim) UIDetach() error {
	_, err := v.Request("ui_detach")
	return err
}

// UITryResize asks the host to resize the UI grid.
func (v *Nvim) UITryResize(width, height int) error {
	_, err := v.Request("ui_try_resize", width, height)
	return err
}

// Quit sends a quit command, "qa!" by default. The host usually drops
// the connection while the response is in flight, so a connection-lost
// error is treated as success.
func (v *Nvim) Quit(quitCommand string) error {
	if quitCommand == "" {
		quitCommand = "qa!"
	}
	err := v.Command(quitCommand)
	if errors.Is(err, session.ErrClosed) {
		return nil
	}
	return err
}

// NewHighlightSource allocates a fresh highlight source id by adding an
// empty highlight to the current buffer.
func (v *Nvim) NewHighlightSource() (int, error) {
	buf, err := v.Current.Buffer()
	if err != nil {
		return 0, err
	}
	return buf.AddHighlight(0, "", 0, 0, -1)
}

// Current accesses the host's focused entities. Like everything else it
// holds no state: each accessor asks the host which entity is current
// right now.
type Current struct {
	v *Nvim
}

// Line returns the line under the cursor.
func (c *Current) Line() (string, error) {
	res, err := c.v.Request("vim_get_current_line")
	if err != nil {
		return "", err
	}
	return asString(res)
}

// SetLine replaces the line under the cursor.
func (c *Current) SetLine(line string) error {
	_, err := c.v.Request("vim_set_current_line", line)
	return err
}

// DelLine deletes the line under the cursor.
func (c *Current) DelLine() error {
	_, err := c.v.Request("vim_del_current_line")
	return err
}

// Buffer returns the focused buffer.
func (c *Current) Buffer() (Buffer, error) {
	res, err := c.v.Request("vim_get_current_buffer")
	if err != nil {
		return Buffer{}, err
	}
	buf, ok := res.(Buffer)
	if !ok {
		return Buffer{}, unexpectedType("Buffer", res)
	}
	return buf, nil
}

// SetBuffer focuses the given buffer.
func (c *Current) SetBuffer(b Buffer) error {
	_, err := c.v.Request("vim_set_current_buffer", b)
	return err
}

// Window returns the focused window.
func (c *Current) Window() (Window, error) {
	res, err := c.v.Request("vim_get_current_window")
	if err != nil {
		return Window{}, err
	}
	w, ok := res.(Window)
	if !ok {
		return Window{}, unexpectedType("Window", res)
	}
	return w, nil
}

// SetWindow focuses the given window.
func (c *Current) SetWindow(w Window) error {
	_, err := c.v.Request("vim_set_current_window", w)
	return err
}

// Tabpage returns the focused tabpage.
func (c *Current) Tabpage() (Tabpage, error) {
	res, err := c.v.Request("vim_get_current_tabpage")
	if err != nil {
		return Tabpage{}, err
	}
	t, ok := res.(Tabpage)
	if !ok {
		return Tabpage{}, unexpectedType("Tabpage", res)
	}
	return t, nil
}

// SetTabpage focuses the given tabpage.
func (c *Current) SetTabpage(t Tabpage) error {
	_, err := c.v.Request("vim_set_current_tabpage", t)
	return err
}
