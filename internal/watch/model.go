// Package watch is a terminal client that shows the live online count.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	intrnl "onlineauth/internal"
)

// Config is what the watcher needs to start.
type Config struct {
	ServerURL   string
	Email       string
	SessionPath string
}

type appMode int

const (
	modeMenu appMode = iota
	modeEmail
	modePassword
	modeWatch
)

type dialFunc func(url string, header http.Header) (*websocket.Conn, error)
type loginFunc func(ctx context.Context, baseURL, email, password string) (*loginResult, error)
type logoutFunc func(ctx context.Context, baseURL, cookie string) error

// Model is the bubbletea model for the watcher.
type Model struct {
	cfg       Config
	spinner   spinner.Model
	textInput textinput.Model
	mode      appMode

	email  string
	name   string
	cookie string

	conn       *websocket.Conn
	writeMutex sync.Mutex
	connected  bool
	connErr    error

	count      int
	hasCount   bool
	lastUpdate time.Time
	notice     string

	dial   dialFunc
	login  loginFunc
	logout logoutFunc
	now    func() time.Time
}

func NewModel(cfg Config) *Model {
	input := textinput.New()
	input.CharLimit = 256

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = connectingStyle

	model := &Model{
		cfg:       cfg,
		spinner:   sp,
		textInput: input,
		mode:      modeMenu,
		email:     cfg.Email,
		dial: func(u string, h http.Header) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.Dial(u, h)
			return conn, err
		},
		login:  apiLogin,
		logout: apiLogout,
		now:    time.Now,
	}
	if sess, err := loadSessionFromDisk(cfg.SessionPath); err == nil && sess.Server == cfg.ServerURL {
		model.cookie = sess.Cookie
		model.email = sess.Email
		model.name = sess.Name
		model.mode = modeWatch
	}
	return model
}

func (model *Model) Init() tea.Cmd {
	if model.mode == modeWatch {
		return tea.Batch(model.spinner.Tick, model.connectCmd())
	}
	return model.spinner.Tick
}

type (
	connectedMsg     struct{ conn *websocket.Conn }
	connectFailedMsg struct{ err error }
	// read results carry the connection they came from so frames from a
	// replaced connection are dropped.
	countMsg struct {
		conn  *websocket.Conn
		count int
	}
	ignoredMsg   struct{ conn *websocket.Conn }
	readErrorMsg struct {
		conn *websocket.Conn
		err  error
	}
	reconnectMsg     struct{}
	loggedInMsg      struct{ result *loginResult }
	loginFailedMsg   struct{ err error }
	logoutFailedMsg  struct{ err error }
)

func (model *Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || (msg.Type == tea.KeyEsc && model.mode != modePassword) {
			model.closeConn()
			return model, tea.Quit
		}
		return model.handleKey(msg)
	case spinner.TickMsg:
		var cmd tea.Cmd
		model.spinner, cmd = model.spinner.Update(msg)
		return model, cmd
	case connectedMsg:
		if model.conn != nil {
			_ = msg.conn.Close()
			return model, nil
		}
		model.conn = msg.conn
		model.connected = true
		model.connErr = nil
		return model, model.readOnceCmd()
	case connectFailedMsg:
		model.connected = false
		model.connErr = msg.err
		return model, model.scheduleReconnect()
	case countMsg:
		if msg.conn != model.conn {
			return model, nil
		}
		model.count = msg.count
		model.hasCount = true
		model.lastUpdate = model.now()
		return model, model.readOnceCmd()
	case ignoredMsg:
		if msg.conn != model.conn {
			return model, nil
		}
		return model, model.readOnceCmd()
	case readErrorMsg:
		if msg.conn != model.conn {
			return model, nil
		}
		model.closeConn()
		model.connErr = msg.err
		return model, model.scheduleReconnect()
	case reconnectMsg:
		if model.mode != modeWatch || model.conn != nil {
			return model, nil
		}
		return model, model.connectCmd()
	case loggedInMsg:
		model.cookie = msg.result.Cookie
		model.name = msg.result.Name
		model.notice = ""
		model.mode = modeWatch
		if err := saveSessionToDisk(model.cfg.SessionPath, sessionFile{
			Server: model.cfg.ServerURL,
			Email:  model.email,
			Name:   model.name,
			Cookie: model.cookie,
		}); err != nil {
			model.notice = "Could not save session: " + err.Error()
		}
		model.closeConn()
		return model, model.connectCmd()
	case loginFailedMsg:
		model.notice = "Login failed: " + msg.err.Error()
		model.enterPrompt(modeEmail)
		return model, model.textInput.Focus()
	case logoutFailedMsg:
		model.notice = "Server sign-out failed: " + msg.err.Error()
		return model, nil
	}
	return model, nil
}

func (model *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch model.mode {
	case modeMenu:
		switch msg.String() {
		case "1", "l", "L":
			model.enterPrompt(modeEmail)
			return model, model.textInput.Focus()
		case "2", "w", "W":
			model.mode = modeWatch
			return model, model.connectCmd()
		case "q", "Q", "3":
			return model, tea.Quit
		}
		return model, nil
	case modeEmail, modePassword:
		if msg.Type == tea.KeyEsc {
			model.textInput.SetValue("")
			model.textInput.Blur()
			model.mode = modeMenu
			return model, nil
		}
		if msg.Type != tea.KeyEnter {
			var cmd tea.Cmd
			model.textInput, cmd = model.textInput.Update(msg)
			return model, cmd
		}
		value := strings.TrimSpace(model.textInput.Value())
		if value == "" {
			model.notice = "This field cannot be empty."
			return model, nil
		}
		model.notice = ""
		if model.mode == modeEmail {
			model.email = value
			model.enterPrompt(modePassword)
			return model, model.textInput.Focus()
		}
		model.textInput.SetValue("")
		model.textInput.Blur()
		model.notice = "Signing in…"
		return model, model.loginCmd(model.email, value)
	case modeWatch:
		switch msg.String() {
		case "r", "R":
			return model, model.requestCountCmd()
		case "o", "O":
			if model.cookie == "" {
				return model, nil
			}
			cookie := model.cookie
			model.cookie = ""
			model.name = ""
			if err := deleteSessionFile(model.cfg.SessionPath); err != nil {
				model.notice = "Could not remove session: " + err.Error()
			}
			model.closeConn()
			return model, tea.Batch(model.logoutCmd(cookie), model.connectCmd())
		case "q", "Q":
			model.closeConn()
			return model, tea.Quit
		}
	}
	return model, nil
}

func (model *Model) enterPrompt(mode appMode) {
	model.mode = mode
	model.textInput.Reset()
	switch mode {
	case modeEmail:
		model.textInput.Prompt = "email> "
		model.textInput.Placeholder = "you@example.com"
		model.textInput.EchoMode = textinput.EchoNormal
		model.textInput.SetValue(model.email)
	case modePassword:
		model.textInput.Prompt = "password> "
		model.textInput.Placeholder = ""
		model.textInput.EchoMode = textinput.EchoPassword
	}
}

func (model *Model) closeConn() {
	if model.conn != nil {
		model.writeMutex.Lock()
		_ = model.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		model.writeMutex.Unlock()
		_ = model.conn.Close()
	}
	model.conn = nil
	model.connected = false
}

func (model *Model) scheduleReconnect() tea.Cmd {
	const retryDelay = 2 * time.Second
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func (model *Model) connectCmd() tea.Cmd {
	serverURL := model.cfg.ServerURL
	cookie := model.cookie
	dial := model.dial
	return func() tea.Msg {
		header := http.Header{}
		if cookie != "" {
			header.Set("Cookie", cookie)
		}
		conn, err := dial(serverURL, header)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		return connectedMsg{conn: conn}
	}
}

// readOnceCmd reads one frame; Update schedules the next read.
func (model *Model) readOnceCmd() tea.Cmd {
	conn := model.conn
	return func() tea.Msg {
		if conn == nil {
			return readErrorMsg{err: fmt.Errorf("websocket not connected")}
		}
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return readErrorMsg{conn: conn, err: err}
		}
		count, ok := decodeCount(messageType, payload)
		if !ok {
			return ignoredMsg{conn: conn}
		}
		return countMsg{conn: conn, count: count}
	}
}

// decodeCount extracts the count from an online-count frame.
func decodeCount(messageType int, payload []byte) (int, bool) {
	if messageType != websocket.TextMessage {
		return 0, false
	}
	var env intrnl.Envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Event != intrnl.EventOnlineCount {
		return 0, false
	}
	var data intrnl.CountData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return 0, false
	}
	return data.Count, true
}

func (model *Model) requestCountCmd() tea.Cmd {
	conn := model.conn
	return func() tea.Msg {
		if conn == nil {
			return nil
		}
		model.writeMutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"get-count"}`))
		model.writeMutex.Unlock()
		if err != nil {
			return readErrorMsg{conn: conn, err: err}
		}
		return nil
	}
}

func (model *Model) loginCmd(email, password string) tea.Cmd {
	login := model.login
	serverURL := model.cfg.ServerURL
	return func() tea.Msg {
		base, err := httpBaseFromWSURL(serverURL)
		if err != nil {
			return loginFailedMsg{err: err}
		}
		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		result, err := login(ctx, base, email, password)
		if err != nil {
			return loginFailedMsg{err: err}
		}
		return loggedInMsg{result: result}
	}
}

func (model *Model) logoutCmd(cookie string) tea.Cmd {
	logout := model.logout
	serverURL := model.cfg.ServerURL
	return func() tea.Msg {
		base, err := httpBaseFromWSURL(serverURL)
		if err != nil {
			return logoutFailedMsg{err: err}
		}
		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		if err := logout(ctx, base, cookie); err != nil {
			return logoutFailedMsg{err: err}
		}
		return nil
	}
}

// Run starts the watcher in the terminal.
func Run(cfg Config) error {
	if cfg.ServerURL == "" {
		return fmt.Errorf("server URL is required")
	}
	program := tea.NewProgram(NewModel(cfg))
	_, err := program.Run()
	return err
}
