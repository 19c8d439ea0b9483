package ui

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/skalibog/aitrade/internal/config"
	"github.com/skalibog/aitrade/internal/engine"
	"github.com/skalibog/aitrade/pkg/logger"
	"github.com/skalibog/aitrade/pkg/models"
	"go.uber.org/zap"
)

// Стили UI
var (
	// Основные цвета
	primaryColor   = lipgloss.Color("#0077cc")
	secondaryColor = lipgloss.Color("#333333")
	errorColor     = lipgloss.Color("#cc3300")
	successColor   = lipgloss.Color("#33cc33")
	warningColor   = lipgloss.Color("#cccc00")

	appStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor).
			Padding(0, 1).
			Align(lipgloss.Center)
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(secondaryColor).
			Padding(0, 1)
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#999999")).
			Padding(0, 1)

	// Регулярное выражение для удаления ANSI-цветов
	ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)
)

const maxLogs = 50

// TermUI терминальная панель: сигналы, открытые позиции, метрики и логи
type TermUI struct {
	config        config.UIConfig
	logFile       string
	program       *tea.Program
	mu            sync.RWMutex
	snapshot      engine.Snapshot
	logs          []string
	selectedIndex int
	width         int
	height        int
}

// Сообщения для обновления UI
type refreshMsg struct{}

// bubbleModel - модель для bubbletea
type bubbleModel struct {
	ui *TermUI
}

// NewTermUI создает панель, читающую логи из JSON-файла логгера
func NewTermUI(cfg config.UIConfig, logFile string) *TermUI {
	return &TermUI{
		config:  cfg,
		logFile: logFile,
		logs:    []string{"aitrade запущен. Ожидание данных..."},
		width:   120,
		height:  40,
	}
}

// Publish принимает новый снимок состояния
func (ui *TermUI) Publish(snapshot engine.Snapshot) {
	ui.mu.Lock()
	ui.snapshot = snapshot
	program := ui.program
	ui.mu.Unlock()

	if program != nil {
		program.Send(refreshMsg{})
	}
}

// Run показывает панель до выхода пользователя или отмены контекста
func (ui *TermUI) Run(ctx context.Context) error {
	program := tea.NewProgram(bubbleModel{ui: ui}, tea.WithAltScreen(), tea.WithContext(ctx))
	ui.mu.Lock()
	ui.program = program
	ui.mu.Unlock()

	go ui.tailLogs(ctx)

	if _, err := program.Run(); err != nil {
		if ctx.Err() != nil || errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return fmt.Errorf("ошибка запуска UI: %w", err)
	}
	return nil
}

func (ui *TermUI) tailLogs(ctx context.Context) {
	refresh := time.Duration(ui.config.RefreshRate) * time.Millisecond
	if refresh <= 0 {
		refresh = time.Second
	}
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ui.loadLogsFromFile(); err != nil {
				logger.Warn("Ошибка загрузки логов", zap.Error(err))
				continue
			}
			ui.mu.RLock()
			program := ui.program
			ui.mu.RUnlock()
			program.Send(refreshMsg{})
		}
	}
}

// loadLogsFromFile читает последние записи JSON-лога
func (ui *TermUI) loadLogsFromFile() error {
	file, err := os.Open(ui.logFile)
	if err != nil {
		if os.IsNotExist(err) {
			// Файл не существует, это не ошибка
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var logs []string
	for scanner.Scan() {
		logs = append(logs, formatLogLine(scanner.Text()))
		if len(logs) > maxLogs {
			logs = logs[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if len(logs) > 0 {
		ui.mu.Lock()
		ui.logs = logs
		ui.mu.Unlock()
	}
	return nil
}

// formatLogLine переводит запись zap в строку панели
func formatLogLine(line string) string {
	var zapLog map[string]interface{}
	if err := json.Unmarshal([]byte(line), &zapLog); err != nil {
		return line
	}

	level, _ := zapLog["level"].(string)
	ts, _ := zapLog["ts"].(string)
	msg, _ := zapLog["msg"].(string)
	level = ansiRegex.ReplaceAllString(level, "")

	timestamp := ""
	if t, err := time.Parse("02.01.2006 - 15:04:05.999999999Z07:00", ts); err == nil {
		timestamp = t.Format("15:04:05")
	}

	keys := make([]string, 0, len(zapLog))
	for k := range zapLog {
		if k != "level" && k != "ts" && k != "msg" && k != "caller" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	formatted := fmt.Sprintf("[%s] [%s] %s", timestamp, level, msg)
	for _, k := range keys {
		formatted += fmt.Sprintf(" (%s: %v)", k, zapLog[k])
	}
	return formatted
}

// Методы для bubbletea
func (m bubbleModel) Init() tea.Cmd {
	return nil
}

func (m bubbleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up":
			m.ui.mu.Lock()
			m.ui.selectedIndex = max(0, m.ui.selectedIndex-1)
			m.ui.mu.Unlock()
		case "down":
			m.ui.mu.Lock()
			symbols := sortedSymbols(m.ui.snapshot.Signals)
			m.ui.selectedIndex = max(0, min(len(symbols)-1, m.ui.selectedIndex+1))
			m.ui.mu.Unlock()
		}

	case tea.WindowSizeMsg:
		m.ui.mu.Lock()
		m.ui.width = msg.Width
		m.ui.height = msg.Height
		m.ui.mu.Unlock()

	case refreshMsg:
		// Просто обновляем UI
	}

	return m, nil
}

func (m bubbleModel) View() string {
	m.ui.mu.RLock()
	defer m.ui.mu.RUnlock()

	snap := m.ui.snapshot
	return appStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("aitrade - торговое ядро"),
			"\n",
			renderMetricsSection(snap),
			renderSignalsSection(snap.Signals, m.ui.selectedIndex),
			renderPositionsSection(snap.Open),
			renderLogsSection(m.ui.logs),
			"\n",
			footerStyle.Render("Клавиши: ↑/↓ - навигация, Q - выход"),
		),
	)
}

func renderMetricsSection(snap engine.Snapshot) string {
	m := snap.Metrics
	profitFactor := fmt.Sprintf("%.2f", m.ProfitFactor)
	if m.ProfitFactorUndefined {
		profitFactor = "нет убытков"
	}
	content := fmt.Sprintf("  Баланс: %.2f  Сделок: %d  Win rate: %.1f%%  Sharpe: %.2f  Просадка: %.4f  Profit factor: %s",
		snap.Balance, m.TotalTrades, m.WinRate*100, m.SharpeRatio, m.MaxDrawdown, profitFactor)

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render("МЕТРИКИ"), content))
}

func renderSignalsSection(signals map[string]models.Signal, selectedIndex int) string {
	content := strings.Builder{}

	symbols := sortedSymbols(signals)
	if len(symbols) == 0 {
		content.WriteString("  Ожидание данных...\n")
	}
	for i, symbol := range symbols {
		signal := signals[symbol]
		line := fmt.Sprintf("  %s: %s (%.2f) Цена: %.2f",
			symbol, formatSignalText(signal.Kind), signal.Confidence, signal.Price)

		// Выделяем выбранную строку
		if i == selectedIndex {
			line = lipgloss.NewStyle().Background(lipgloss.Color("#222222")).Render("> " + line[2:])
		}
		content.WriteString(line + "\n")
	}

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render("СИГНАЛЫ"), content.String()))
}

func renderPositionsSection(open []models.Position) string {
	content := strings.Builder{}
	if len(open) == 0 {
		content.WriteString("  Нет открытых позиций\n")
	}
	for _, p := range open {
		content.WriteString(fmt.Sprintf("  #%d %s %s вход %.2f размер %.4f SL %.2f TP %.2f\n",
			p.ID, p.Symbol, p.Side, p.EntryPrice, p.Size, p.StopLoss, p.TakeProfit))
	}

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render("ПОЗИЦИИ"), content.String()))
}

func renderLogsSection(logs []string) string {
	content := strings.Builder{}
	for _, log := range logs {
		// Выделение по уровню логирования
		switch {
		case strings.Contains(log, "[ERROR]"):
			log = lipgloss.NewStyle().Foreground(errorColor).Render(log)
		case strings.Contains(log, "[INFO]"):
			log = lipgloss.NewStyle().Foreground(successColor).Render(log)
		case strings.Contains(log, "[WARN]"):
			log = lipgloss.NewStyle().Foreground(warningColor).Render(log)
		case strings.Contains(log, "[DEBUG]"):
			log = lipgloss.NewStyle().Foreground(lipgloss.Color("#9999ff")).Render(log)
		}
		content.WriteString("  " + log + "\n")
	}

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render("ЛОГИ"), content.String()))
}

func formatSignalText(kind models.SignalKind) string {
	style := lipgloss.NewStyle().Foreground(warningColor)
	switch kind {
	case models.Buy:
		style = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	case models.Sell:
		style = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	}
	return style.Render(kind.String())
}

func sortedSymbols(signals map[string]models.Signal) []string {
	symbols := make([]string, 0, len(signals))
	for symbol := range signals {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
