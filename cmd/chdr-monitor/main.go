package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/iprivit/uhd/pkg/chdr"
	"github.com/iprivit/uhd/pkg/clientzero"
	"github.com/iprivit/uhd/pkg/config"
	"github.com/iprivit/uhd/pkg/graph"
	"github.com/iprivit/uhd/pkg/metrics"
	"github.com/iprivit/uhd/pkg/node"
	"github.com/iprivit/uhd/pkg/streamer"
	"github.com/iprivit/uhd/pkg/transport"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF")).
			MarginLeft(2).
			MarginTop(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FFFF")).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#FF00FF")).
			Padding(0, 2)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#666666")).
				Padding(0, 2)

	contentStyle = lipgloss.NewStyle().
			MarginLeft(2).
			MarginTop(1)

	statsBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(1, 2).
			MarginRight(2)

	graphBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("#FFFF00")).
			Padding(1, 2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

type view int

const (
	dashboardView view = iota
	topologyView
	streamerView
	numViews
)

type keyMap struct {
	Tab      key.Binding
	ShiftTab key.Binding
	Quit     key.Binding
	Up       key.Binding
	Down     key.Binding
}

var keys = keyMap{
	Tab:      key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next view")),
	ShiftTab: key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "prev view")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("up/k", "up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("down/j", "down")),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Tab, k.ShiftTab}, {k.Up, k.Down}, {k.Quit}}
}

// model is the monitor's Elm-architecture state. It polls the ClientZero and
// streamer handles it is given on every tick; it only reads them and never
// drives their data plane (the handles come from buildMonitorTarget).
type model struct {
	cz          *clientzero.ClientZero
	rx          *streamer.RxStreamer
	tx          *streamer.TxStreamer
	blocks      []string
	timeout     time.Duration
	currentView view
	adjTable    table.Model
	help        help.Model
	keys        keyMap
	width       int
	height      int
	startTime   time.Time
	message     string
	messageErr  bool

	info DeviceSnapshot
}

// DeviceSnapshot is the data the dashboard/topology/streamer views render,
// refreshed once per tick so View() never calls back into the device.
type DeviceSnapshot struct {
	Device       clientzero.DeviceInfo
	Adjacency    []clientzero.BlockEdge
	StaticInfo   map[string]clientzero.BlockStaticInfo
	RxState      streamer.State
	RxChannels   int
	TxChannels   int
	RefreshedAt  time.Time
	RefreshError error
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func initialModel(cz *clientzero.ClientZero, rx *streamer.RxStreamer, tx *streamer.TxStreamer, blocks []string, timeout time.Duration) model {
	columns := []table.Column{
		{Title: "Src Block", Width: 10},
		{Title: "Src Port", Width: 9},
		{Title: "Dst Block", Width: 10},
		{Title: "Dst Port", Width: 9},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#FF00FF"))
	t.SetStyles(s)

	m := model{
		cz:          cz,
		rx:          rx,
		tx:          tx,
		blocks:      blocks,
		timeout:     timeout,
		currentView: dashboardView,
		adjTable:    t,
		help:        help.New(),
		keys:        keys,
		startTime:   time.Now(),
	}
	m.refresh()
	return m
}

// refresh pulls a fresh DeviceSnapshot. It uses the block names in m.blocks,
// bound at startup, rather than discovering them from the graph, since client-zero's
// adjacency list names blocks by index, not instance name.
func (m *model) refresh() {
	snap := DeviceSnapshot{RefreshedAt: time.Now()}
	snap.Device = m.cz.DeviceInfo()
	snap.Adjacency = m.cz.AdjacencyList()
	if m.rx != nil {
		snap.RxState = m.rx.State()
		snap.RxChannels = m.rx.NumChannels()
	}
	if m.tx != nil {
		snap.TxChannels = m.tx.NumChannels()
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	info, err := m.cz.AllStaticInfo(ctx, m.blocks, m.timeout)
	if err != nil {
		snap.RefreshError = err
	} else {
		snap.StaticInfo = info
	}

	m.info = snap
	m.updateAdjTable()
}

func (m *model) updateAdjTable() {
	rows := make([]table.Row, 0, len(m.info.Adjacency))
	for _, e := range m.info.Adjacency {
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", e.SrcBlockIdx),
			fmt.Sprintf("%d", e.SrcPort),
			fmt.Sprintf("%d", e.DstBlockIdx),
			fmt.Sprintf("%d", e.DstPort),
		})
	}
	m.adjTable.SetRows(rows)
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tickMsg:
		m.refresh()
		if m.info.RefreshError != nil {
			m.message = fmt.Sprintf("refresh error: %v", m.info.RefreshError)
			m.messageErr = true
		} else {
			m.message = ""
			m.messageErr = false
		}
		return m, tickCmd()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Tab):
			m.currentView = (m.currentView + 1) % numViews
		case key.Matches(msg, m.keys.ShiftTab):
			if m.currentView == 0 {
				m.currentView = numViews - 1
			} else {
				m.currentView--
			}
		}
	}

	if m.currentView == topologyView {
		m.adjTable, cmd = m.adjTable.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("CHDR Host Monitor"))
	s.WriteString("\n\n")
	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	switch m.currentView {
	case dashboardView:
		s.WriteString(m.renderDashboard())
	case topologyView:
		s.WriteString(m.renderTopology())
	case streamerView:
		s.WriteString(m.renderStreamer())
	}

	if m.message != "" {
		s.WriteString("\n\n")
		s.WriteString(errorStyle.Render("x " + m.message))
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))
	return s.String()
}

func (m model) renderTabs() string {
	tabs := []string{"Dashboard", "Topology", "Streamer"}
	var rendered []string
	for i, tab := range tabs {
		if view(i) == m.currentView {
			rendered = append(rendered, activeTabStyle.Render(tab))
		} else {
			rendered = append(rendered, inactiveTabStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (m model) renderDashboard() string {
	uptime := time.Since(m.startTime).Round(time.Second)
	d := m.info.Device

	identity := fmt.Sprintf(`Identity
--------
Device Type: %s
Proto Ver:   %d
Transports:  %d
Uptime:      %s
Refreshed:   %s`,
		d.DeviceType, d.ProtoVer, d.NumTransports, uptime, m.info.RefreshedAt.Format("15:04:05"))

	topology := fmt.Sprintf(`Topology
--------
Blocks:           %d
Edges:            %d
Stream Endpoints: %d`,
		d.NumBlocks, d.NumEdges, d.NumStreamEndpoints)

	identityBox := statsBoxStyle.Render(identity)
	topologyBox := statsBoxStyle.Render(topology)
	return contentStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top, identityBox, topologyBox))
}

func (m model) renderTopology() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("Block Adjacency"))
	s.WriteString("\n\n")
	s.WriteString(m.adjTable.View())
	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render("indices are positions in the sorted block-ID ordering, not register addresses"))
	return contentStyle.Render(s.String())
}

func (m model) renderStreamer() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("Streamer State"))
	s.WriteString("\n\n")

	content := fmt.Sprintf(`Rx State:     %s
Rx Channels:  %d
Tx Channels:  %d

Block Static Info`,
		m.info.RxState, m.info.RxChannels, m.info.TxChannels)
	s.WriteString(graphBoxStyle.Render(content))
	s.WriteString("\n\n")

	for _, name := range m.blocks {
		info, ok := m.info.StaticInfo[name]
		if !ok {
			continue
		}
		s.WriteString(fmt.Sprintf("  %-10s in=%d out=%d item_width=%d chdr_width=%d async=%d\n",
			name, info.NumInputPorts, info.NumOutputPorts, info.ItemWidth, info.ChdrWidth, info.MaxAsyncMessages))
	}

	return contentStyle.Render(s.String())
}

func main() {
	configPath := flag.String("config", "", "Path to a device config YAML file (see pkg/config); defaults are used if empty")
	flag.Parse()

	devCfg, err := loadMonitorConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load device config: %v", err)
	}

	codec, err := chdr.NewCodec(chdr.BusWidth(devCfg.BusWidthBits), toChdrEndianness(devCfg.Endianness))
	if err != nil {
		log.Fatalf("failed to construct CHDR codec: %v", err)
	}

	cz, rx, tx, blocks, err := buildMonitorTarget(codec, devCfg)
	if err != nil {
		log.Fatalf("failed to build monitor target: %v", err)
	}

	p := tea.NewProgram(initialModel(cz, rx, tx, blocks, devCfg.Transport.RecvTimeout), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("monitor exited with error: %v", err)
	}
}

func toChdrEndianness(e config.Endianness) chdr.Endianness {
	if e == config.BigEndian {
		return chdr.BigEndian
	}
	return chdr.LittleEndian
}

func loadMonitorConfig(path string) (*config.DeviceConfig, error) {
	if path == "" {
		cfg := &config.DeviceConfig{
			BusWidthBits: 64,
			Endianness:   config.LittleEndian,
			TickRateHz:   200e6,
			Transport:    config.DefaultTransportConfig(),
		}
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

// buildMonitorTarget assembles the same minimal radio -> ddc -> sink graph
// cmd/chdr-host builds, standing in for attaching to an already-running
// host's client-zero endpoint over a real transport. A production monitor
// would dial the host's transport address instead of constructing its own
// loopback link.
func buildMonitorTarget(codec *chdr.Codec, devCfg *config.DeviceConfig) (*clientzero.ClientZero, *streamer.RxStreamer, *streamer.TxStreamer, []string, error) {
	g := graph.New()
	radio := node.New("radio0", 0, 1)
	ddc := node.New("ddc0", 1, 1)
	sink := node.New("sink0", 1, 0)
	for _, n := range []*node.Node{radio, ddc, sink} {
		if err := g.AddNode(n); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	if err := g.Connect("radio0", 0, "ddc0", 0, true); err != nil {
		return nil, nil, nil, nil, err
	}
	if err := g.Connect("ddc0", 0, "sink0", 0, true); err != nil {
		return nil, nil, nil, nil, err
	}
	if err := g.Commit(); err != nil {
		return nil, nil, nil, nil, err
	}

	conv, err := streamer.NewConverter(streamer.WireSC16, streamer.CPUFC32, 0)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	metricsReg := metrics.DefaultRegistry()
	rxLink := transport.NewTestLink(devCfg.Transport.NumRecvFrames, devCfg.Transport.RecvFrameSize)
	txLink := transport.NewTestLink(devCfg.Transport.NumSendFrames, devCfg.Transport.SendFrameSize)
	credit := streamer.NewCreditWindow()
	credit.Replenish(int64(devCfg.Transport.SendBuffSize), int64(devCfg.Transport.NumSendFrames))

	rx := streamer.NewRxStreamer("radio0:rx", codec, conv, []transport.Link{rxLink}, devCfg.TickRateHz, devCfg.TickRateHz, nil, metricsReg)
	tx := streamer.NewTxStreamer("radio0:tx", codec, conv, []transport.Link{txLink}, credit, metricsReg)

	regLink, _ := transport.NewTestLinkPair(8, devCfg.Transport.RecvFrameSize)
	reg := clientzero.NewRegisterLink(regLink, codec, 0)
	reg.Bind("radio0", clientzero.Endpoint{EPID: 0, Port: 0})
	reg.Bind("ddc0", clientzero.Endpoint{EPID: 0, Port: 1})
	reg.Bind("sink0", clientzero.Endpoint{EPID: 0, Port: 2})
	cz := clientzero.New(g, reg, 1, "chdr-host", 1, metricsReg)

	return cz, rx, tx, []string{"radio0", "ddc0", "sink0"}, nil
}
