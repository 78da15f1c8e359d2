package ui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/BioHazard786/warpmeet/internal/media"
	"github.com/BioHazard786/warpmeet/internal/reconcile"
	"github.com/BioHazard786/warpmeet/internal/session"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/olebedev/emitter"
)

// Action is something the user asked for on the board.
type Action int

const (
	ActionToggleScreen Action = iota + 1
	ActionSwitchCamera
	ActionToggleMute
	ActionToggleVideo
	ActionLeave
)

const (
	topicAssign   = "tile:assign"
	topicRetract  = "tile:retract"
	topicSnapshot = "snapshot"
	topicNotice   = "notice"
)

type tileKey struct {
	peer  string
	class reconcile.Class
}

type tile struct {
	stream string
	tracks int
}

// Board is the live meeting view. It implements reconcile.Sink, so the
// session hands it classified streams directly. Every update goes
// through an emitter and lands in the model synchronously.
type Board struct {
	events  *emitter.Emitter
	model   *boardModel
	program *tea.Program
	done    chan struct{}
	wg      sync.WaitGroup
}

type boardModel struct {
	roomID   string
	roomLink string
	spinner  spinner.Model
	refresh  chan struct{}
	actions  chan Action

	mu       sync.RWMutex
	snap     session.Snapshot
	tiles    map[tileKey]tile
	notice   string
	quitting bool
}

type refreshMsg struct{}

// NewBoard creates a board for the given room.
func NewBoard(roomID, roomLink string) *Board {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	m := &boardModel{
		roomID:   roomID,
		roomLink: roomLink,
		spinner:  s,
		refresh:  make(chan struct{}, 1),
		actions:  make(chan Action, 8),
		tiles:    make(map[tileKey]tile),
	}

	e := &emitter.Emitter{}
	e.Use("*", emitter.Void)
	e.On(topicAssign, m.onAssign)
	e.On(topicRetract, m.onRetract)
	e.On(topicSnapshot, m.onSnapshot)
	e.On(topicNotice, m.onNotice)

	return &Board{events: e, model: m, done: make(chan struct{})}
}

func (b *Board) Assign(peerID string, class reconcile.Class, stream *media.RemoteStream) {
	b.events.Emit(topicAssign, peerID, class, stream.ID, stream.TrackCount())
}

func (b *Board) Retract(peerID string, class reconcile.Class) {
	b.events.Emit(topicRetract, peerID, class)
}

// SetSnapshot replaces the participant view.
func (b *Board) SetSnapshot(snap session.Snapshot) {
	b.events.Emit(topicSnapshot, snap)
}

// Notice shows a one-line status message under the header.
func (b *Board) Notice(format string, args ...any) {
	b.events.Emit(topicNotice, fmt.Sprintf(format, args...))
}

// Actions delivers key presses the caller should act on.
func (b *Board) Actions() <-chan Action { return b.model.actions }

// Done is closed once the board has exited.
func (b *Board) Done() <-chan struct{} { return b.done }

// Start runs the board in a goroutine
func (b *Board) Start() {
	b.program = tea.NewProgram(b.model)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(b.done)
		if _, err := b.program.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
	}()
}

// Stop quits the board and waits for the terminal to be restored.
func (b *Board) Stop() {
	if b.program != nil {
		b.program.Quit()
	}
	b.wg.Wait()
}

func (m *boardModel) onAssign(ev *emitter.Event) {
	key := tileKey{peer: ev.Args[0].(string), class: ev.Args[1].(reconcile.Class)}
	m.mu.Lock()
	m.tiles[key] = tile{stream: ev.Args[2].(string), tracks: ev.Args[3].(int)}
	m.mu.Unlock()
	m.changed()
}

func (m *boardModel) onRetract(ev *emitter.Event) {
	key := tileKey{peer: ev.Args[0].(string), class: ev.Args[1].(reconcile.Class)}
	m.mu.Lock()
	delete(m.tiles, key)
	m.mu.Unlock()
	m.changed()
}

func (m *boardModel) onSnapshot(ev *emitter.Event) {
	m.mu.Lock()
	m.snap = ev.Args[0].(session.Snapshot)
	m.mu.Unlock()
	m.changed()
}

func (m *boardModel) onNotice(ev *emitter.Event) {
	m.mu.Lock()
	m.notice = ev.Args[0].(string)
	m.mu.Unlock()
	m.changed()
}

func (m *boardModel) changed() {
	select {
	case m.refresh <- struct{}{}:
	default:
	}
}

func (m *boardModel) act(a Action) {
	select {
	case m.actions <- a:
	default:
	}
}

func (m *boardModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForRefresh())
}

func (m *boardModel) waitForRefresh() tea.Cmd {
	return func() tea.Msg {
		<-m.refresh
		return refreshMsg{}
	}
}

func (m *boardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "s":
			m.act(ActionToggleScreen)
		case "c":
			m.act(ActionSwitchCamera)
		case "m":
			m.act(ActionToggleMute)
		case "v":
			m.act(ActionToggleVideo)
		case "q", "ctrl+c":
			m.act(ActionLeave)
			m.mu.Lock()
			m.quitting = true
			m.mu.Unlock()
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case refreshMsg:
		return m, m.waitForRefresh()
	}
	return m, nil
}

func (m *boardModel) View() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s %s", IconRoom, m.roomID)))
	b.WriteString("\n")
	if m.roomLink != "" {
		b.WriteString(MutedStyle.Render(m.roomLink) + "\n")
	}

	local := fmt.Sprintf("%s You (%s)", IconPeer, orDash(string(m.snap.Role)))
	if m.snap.AudioMuted {
		local += "  " + IconMuted + " muted"
	} else {
		local += "  " + IconMic + " on"
	}
	if m.snap.Camera != "" && !m.snap.VideoOff {
		local += "  " + IconCamera + " on"
	} else {
		local += "  " + IconCamera + " off"
	}
	if m.snap.Screen != "" {
		local += "  " + IconScreen + " sharing"
	}
	b.WriteString(local + "\n")
	if m.notice != "" {
		b.WriteString(WarningStyle.Render(m.notice) + "\n")
	}
	b.WriteString("\n")

	if len(m.snap.Peers) == 0 {
		b.WriteString(fmt.Sprintf("%s Waiting for participants...\n", m.spinner.View()))
	} else {
		b.WriteString(PeerTableView(m.snap.Peers) + "\n")
	}

	if tiles := m.viewTiles(); tiles != "" {
		b.WriteString("\n" + tiles + "\n")
	}

	b.WriteString(FooterStyle.Render("s share screen · c switch camera · m mute · v video · q leave"))
	return b.String()
}

func (m *boardModel) viewTiles() string {
	names := make(map[string]string, len(m.snap.Peers))
	order := make([]string, 0, len(m.snap.Peers))
	for _, p := range m.snap.Peers {
		names[p.Participant.PeerID] = p.Participant.Name
		order = append(order, p.Participant.PeerID)
	}
	for key := range m.tiles {
		if _, ok := names[key.peer]; !ok {
			names[key.peer] = ""
			order = append(order, key.peer)
		}
	}

	var rendered []string
	for _, id := range order {
		for _, class := range []reconcile.Class{reconcile.Camera, reconcile.Screen} {
			t, ok := m.tiles[tileKey{peer: id, class: class}]
			if !ok {
				continue
			}
			name := names[id]
			if name == "" {
				name = id
			}
			style, icon := TileStyle, IconCamera
			if class == reconcile.Screen {
				style, icon = ScreenTileStyle, IconScreen
			}
			rendered = append(rendered, style.Render(fmt.Sprintf("%s %s\n%s\n%d track(s)",
				icon, truncate(name, 20), MutedStyle.Render(truncate(t.stream, 24)), t.tracks)))
		}
	}
	if len(rendered) == 0 {
		return ""
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}
