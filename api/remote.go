package api

import (
	"github.com/smnsjas/go-nvimcore/wire"
)

// RemoteID is the identity of a host-owned entity: the host's type tag
// plus the opaque payload it chose for the entity. It is a plain value
// type so two independently decoded handles for the same entity compare
// equal and hash to the same map key.
type RemoteID struct {
	Type int8
	Data string
}

func (id RemoteID) ext() wire.Ext {
	return wire.Ext{Type: id.Type, Data: []byte(id.Data)}
}

// Remote is the common part of every host-owned entity handle. It holds
// no host-side resources; dropping a handle requires no notification to
// the host. Equality is structural on (nvim, RemoteID), so handles work
// directly with == and as map keys.
type Remote struct {
	v  *Nvim
	id RemoteID
}

// ID returns the identity of the referenced entity.
func (r Remote) ID() RemoteID {
	return r.id
}

// ref lets toWire recover the wire form from any handle type.
func (r Remote) ref() wire.Ext {
	return r.id.ext()
}

// request issues a request with this entity as the receiver argument.
func (r Remote) request(name string, args ...any) (any, error) {
	return r.v.Request(name, append([]any{r}, args...)...)
}

// Buffer is a handle to one host buffer. All methods issue a fresh
// request; nothing is cached client-side.
type Buffer struct {
	Remote
}

// LineCount returns the number of lines in the buffer.
func (b Buffer) LineCount() (int, error) {
	res, err := b.request("buffer_line_count")
	if err != nil {
		return 0, err
	}
	return asInt(res)
}

// Line returns the line at the given index.
func (b Buffer) Line(index int) (string, error) {
	res, err := b.request("buffer_get_line", index)
	if err != nil {
		return "", err
	}
	return asString(res)
}

// SetLine replaces the line at the given index.
func (b Buffer) SetLine(index int, line string) error {
	_, err := b.request("buffer_set_line", index, line)
	return err
}

// DelLine deletes the line at the given index.
func (b Buffer) DelLine(index int) error {
	_, err := b.request("buffer_del_line", index)
	return err
}

// LineSlice returns the lines between start and end.
func (b Buffer) LineSlice(start, end int, includeStart, includeEnd bool) ([]string, error) {
	res, err := b.request("buffer_get_line_slice", start, end, includeStart, includeEnd)
	if err != nil {
		return nil, err
	}
	return asStrings(res)
}

// SetLineSlice replaces the lines between start and end.
func (b Buffer) SetLineSlice(start, end int, includeStart, includeEnd bool, lines []string) error {
	_, err := b.request("buffer_set_line_slice", start, end, includeStart, includeEnd, lines)
	return err
}

// Insert inserts lines after the given line number. Use 0 to insert at
// the top of the buffer.
func (b Buffer) Insert(lnum int, lines []string) error {
	_, err := b.request("buffer_insert", lnum, lines)
	return err
}

// Name returns the buffer's full file name.
func (b Buffer) Name() (string, error) {
	res, err := b.request("buffer_get_name")
	if err != nil {
		return "", err
	}
	return asString(res)
}

// SetName sets the buffer's name.
func (b Buffer) SetName(name string) error {
	_, err := b.request("buffer_set_name", name)
	return err
}

// Number returns the buffer number.
func (b Buffer) Number() (int, error) {
	res, err := b.request("buffer_get_number")
	if err != nil {
		return 0, err
	}
	return asInt(res)
}

// IsValid reports whether the buffer still exists on the host.
func (b Buffer) IsValid() (bool, error) {
	res, err := b.request("buffer_is_valid")
	if err != nil {
		return false, err
	}
	return asBool(res)
}

// Mark returns the (row, col) position of the named mark.
func (b Buffer) Mark(name string) (int, int, error) {
	res, err := b.request("buffer_get_mark", name)
	if err != nil {
		return 0, 0, err
	}
	return asPosition(res)
}

// AddHighlight adds a highlight to the buffer and returns the source id
// that can be used to clear it. Pass srcID 0 to allocate a new source.
func (b Buffer) AddHighlight(srcID int, hlGroup string, line, colStart, colEnd int) (int, error) {
	res, err := b.request("buffer_add_highlight", srcID, hlGroup, line, colStart, colEnd)
	if err != nil {
		return 0, err
	}
	return asInt(res)
}

// ClearHighlight clears highlights from the given source in a line
// range. Pass lineStart 0 and lineEnd -1 to clear the whole buffer.
func (b Buffer) ClearHighlight(srcID, lineStart, lineEnd int) error {
	_, err := b.request("buffer_clear_highlight", srcID, lineStart, lineEnd)
	return err
}

// Vars is the buffer-scoped variable map.
func (b Buffer) Vars() *RemoteMap {
	return newRemoteMap(b.v, "buffer_get_var", "buffer_set_var", b)
}

// Options is the buffer-scoped option map.
func (b Buffer) Options() *RemoteMap {
	return newRemoteMap(b.v, "buffer_get_option", "buffer_set_option", b)
}

// Window is a handle to one host window.
type Window struct {
	Remote
}

// Buffer returns the buffer displayed in the window.
func (w Window) Buffer() (Buffer, error) {
	res, err := w.request("window_get_buffer")
	if err != nil {
		return Buffer{}, err
	}
	buf, ok := res.(Buffer)
	if !ok {
		return Buffer{}, unexpectedType("Buffer", res)
	}
	return buf, nil
}

// Cursor returns the (row, col) cursor position in the window.
func (w Window) Cursor() (int, int, error) {
	res, err := w.request("window_get_cursor")
	if err != nil {
		return 0, 0, err
	}
	return asPosition(res)
}

// SetCursor moves the cursor to (row, col).
func (w Window) SetCursor(row, col int) error {
	_, err := w.request("window_set_cursor", []any{row, col})
	return err
}

// Height returns the window height in rows.
func (w Window) Height() (int, error) {
	res, err := w.request("window_get_height")
	if err != nil {
		return 0, err
	}
	return asInt(res)
}

// SetHeight sets the window height in rows.
func (w Window) SetHeight(height int) error {
	_, err := w.request("window_set_height", height)
	return err
}

// Width returns the window width in columns.
func (w Window) Width() (int, error) {
	res, err := w.request("window_get_width")
	if err != nil {
		return 0, err
	}
	return asInt(res)
}

// SetWidth sets the window width in columns.
func (w Window) SetWidth(width int) error {
	_, err := w.request("window_set_width", width)
	return err
}

// Position returns the on-screen (row, col) of the window's top-left
// corner.
func (w Window) Position() (int, int, error) {
	res, err := w.request("window_get_position")
	if err != nil {
		return 0, 0, err
	}
	return asPosition(res)
}

// Tabpage returns the tabpage containing the window.
func (w Window) Tabpage() (Tabpage, error) {
	res, err := w.request("window_get_tabpage")
	if err != nil {
		return Tabpage{}, err
	}
	tab, ok := res.(Tabpage)
	if !ok {
		return Tabpage{}, unexpectedType("Tabpage", res)
	}
	return tab, nil
}

// IsValid reports whether the window still exists on the host.
func (w Window) IsValid() (bool, error) {
	res, err := w.request("window_is_valid")
	if err != nil {
		return false, err
	}
	return asBool(res)
}

// Vars is the window-scoped variable map.
func (w Window) Vars() *RemoteMap {
	return newRemoteMap(w.v, "window_get_var", "window_set_var", w)
}

// Options is the window-scoped option map.
func (w Window) Options() *RemoteMap {
	return newRemoteMap(w.v, "window_get_option", "window_set_option", w)
}

// Tabpage is a handle to one host tabpage.
type Tabpage struct {
	Remote
}

// Windows returns the windows in the tabpage.
func (t Tabpage) Windows() ([]Window, error) {
	res, err := t.request("tabpage_get_windows")
	if err != nil {
		return nil, err
	}
	items, ok := res.([]any)
	if !ok {
		return nil, unexpectedType("window list", res)
	}
	windows := make([]Window, len(items))
	for i, item := range items {
		w, ok := item.(Window)
		if !ok {
			return nil, unexpectedType("Window", item)
		}
		windows[i] = w
	}
	return windows, nil
}

// Window returns the currently focused window of the tabpage.
func (t Tabpage) Window() (Window, error) {
	res, err := t.request("tabpage_get_window")
	if err != nil {
		return Window{}, err
	}
	w, ok := res.(Window)
	if !ok {
		return Window{}, unexpectedType("Window", res)
	}
	return w, nil
}

// IsValid reports whether the tabpage still exists on the host.
func (t Tabpage) IsValid() (bool, error) {
	res, err := t.request("tabpage_is_valid")
	if err != nil {
		return false, err
	}
	return asBool(res)
}

// Vars is the tabpage-scoped variable map.
func (t Tabpage) Vars() *RemoteMap {
	return newRemoteMap(t.v, "tabpage_get_var", "tabpage_set_var", t)
}
