package dashboard

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"ZyndAI-Connect/pkg/logger"
)

const (
	// DefaultStatusInterval 是轮询 /api/status 的间隔。
	DefaultStatusInterval = 15 * time.Second
	// DefaultProfileInterval 是轮询 /api/profile 的间隔。
	DefaultProfileInterval = 10 * time.Second
)

// Backend 是聊天会话依赖的仪表盘接口。
type Backend interface {
	Status(ctx context.Context) (map[string]string, error)
	Profile(ctx context.Context) (Profile, error)
	Query(ctx context.Context, req QueryRequest) (QueryResponse, error)
}

// ChatConfig 配置聊天会话。
type ChatConfig struct {
	StatusInterval  time.Duration
	ProfileInterval time.Duration
	QueryTimeout    time.Duration
	SessionID       string
}

// Chat 是一个终端聊天会话。
type Chat struct {
	backend Backend
	cfg     ChatConfig
	out     io.Writer
	logger  *slog.Logger

	mu         sync.Mutex
	active     string
	status     map[string]string
	profile    Profile
	attachment *Attachment

	system *color.Color
	user   *color.Color
	bold   func(a ...interface{}) string
}

// NewChat 创建聊天会话，输出写入 out。
func NewChat(backend Backend, out io.Writer, cfg ChatConfig) *Chat {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if cfg.ProfileInterval <= 0 {
		cfg.ProfileInterval = DefaultProfileInterval
	}
	if cfg.SessionID == "" {
		cfg.SessionID = NewSessionID()
	}
	return &Chat{
		backend: backend,
		cfg:     cfg,
		out:     out,
		logger:  logger.Named("dashboard"),
		active:  DefaultAgent,
		status:  make(map[string]string),
		profile: Profile{}.WithFallbacks(),
		system:  color.New(color.FgHiBlack),
		user:    color.New(color.FgWhite, color.Bold),
		bold:    color.New(color.Bold).SprintFunc(),
	}
}

// SessionID 返回当前会话 ID。
func (c *Chat) SessionID() string {
	return c.cfg.SessionID
}

// ActiveAgent 返回当前选中的智能体 ID。
func (c *Chat) ActiveAgent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Run 启动轮询并逐行读取输入，直到输入结束、收到 /quit 或上下文取消。
func (c *Chat) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(2)
	go func() {
		defer wg.Done()
		c.poll(ctx, c.cfg.StatusInterval, c.RefreshStatus)
	}()
	go func() {
		defer wg.Done()
		c.poll(ctx, c.cfg.ProfileInterval, c.RefreshProfile)
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	agent, _ := LookupAgent(c.ActiveAgent())
	c.printSystem(fmt.Sprintf("Session %s. Talking to %s. Type /help for commands.", c.cfg.SessionID, agent.Name))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := c.HandleLine(ctx, line); quit {
				return nil
			}
		}
	}
}

func (c *Chat) poll(ctx context.Context, interval time.Duration, refresh func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := refresh(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("仪表盘轮询失败", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RefreshStatus 拉取智能体在线状态。
func (c *Chat) RefreshStatus(ctx context.Context) error {
	status, err := c.backend.Status(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, state := range status {
		if _, ok := LookupAgent(id); ok {
			c.status[id] = state
		}
	}
	return nil
}

// RefreshProfile 拉取创始人资料。
func (c *Chat) RefreshProfile(ctx context.Context) error {
	profile, err := c.backend.Profile(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.profile = profile.WithFallbacks()
	c.mu.Unlock()
	return nil
}

// HandleLine 处理一行输入，返回 true 表示退出。
func (c *Chat) HandleLine(ctx context.Context, line string) bool {
	text := strings.TrimSpace(line)
	if !strings.HasPrefix(text, "/") {
		c.Send(ctx, text)
		return false
	}

	command, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case "/quit", "/exit":
		return true
	case "/agent":
		if err := c.SwitchAgent(arg); err != nil {
			c.printSystem(err.Error())
		}
	case "/agents":
		c.printAgents()
	case "/profile":
		c.printProfile()
	case "/attach":
		attachment, err := LoadAttachment(arg)
		if err != nil {
			c.printSystem(err.Error())
			return false
		}
		c.mu.Lock()
		c.attachment = attachment
		c.mu.Unlock()
		c.printSystem("Attached " + attachment.Name)
	case "/detach":
		c.mu.Lock()
		c.attachment = nil
		c.mu.Unlock()
	case "/clear":
		c.printSystem("Protocol refreshed.")
	case "/help":
		c.printSystem("Commands: /agent <id>, /agents, /profile, /attach <path>, /detach, /clear, /quit")
	default:
		c.printSystem("Unknown command " + command)
	}
	return false
}

// SwitchAgent 切换当前智能体。
func (c *Chat) SwitchAgent(id string) error {
	agent, ok := LookupAgent(id)
	if !ok {
		return fmt.Errorf("unknown agent %q", id)
	}
	c.mu.Lock()
	c.active = agent.ID
	c.mu.Unlock()
	c.printSystem("Focus shifted to " + agent.Name)
	return nil
}

// Send 将消息发送给当前智能体并打印回复。空消息被忽略。
func (c *Chat) Send(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	c.mu.Lock()
	attachment := c.attachment
	c.attachment = nil
	active := c.active
	c.mu.Unlock()

	if attachment != nil {
		c.printUser("Shared file: " + attachment.Name)
	}
	c.printUser(text)

	if c.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.QueryTimeout)
		defer cancel()
	}
	resp, err := c.backend.Query(ctx, QueryRequest{
		AgentID:   active,
		Content:   text,
		SessionID: c.cfg.SessionID,
		File:      attachment,
	})
	if err != nil {
		c.printSystem("Network error: " + err.Error())
		return
	}
	if resp.Failed() {
		c.printSystem("Error: " + resp.ErrorText())
		return
	}
	for _, message := range resp.Messages() {
		c.printAgent(active, message)
	}
}

func (c *Chat) printSystem(text string) {
	c.system.Fprintln(c.out, RenderBold(NormalizeMessage(text), c.bold))
}

func (c *Chat) printUser(text string) {
	c.user.Fprintln(c.out, "> "+RenderBold(NormalizeMessage(text), c.bold))
}

func (c *Chat) printAgent(id string, message any) {
	agent, _ := LookupAgent(id)
	label := color.New(agent.Attr, color.Bold).Sprint("[" + agent.Name + "]")
	fmt.Fprintf(c.out, "%s %s\n", label, RenderBold(NormalizeMessage(message), c.bold))
}

func (c *Chat) printAgents() {
	c.mu.Lock()
	status := make(map[string]string, len(c.status))
	for k, v := range c.status {
		status[k] = v
	}
	active := c.active
	c.mu.Unlock()

	for _, agent := range Agents {
		marker := " "
		if agent.ID == active {
			marker = "*"
		}
		state := status[agent.ID]
		if state == "" {
			state = "unknown"
		}
		name := color.New(agent.Attr).Sprint(agent.Name)
		fmt.Fprintf(c.out, "%s %-12s %s (%s) %s\n", marker, agent.ID, name, state, agent.Description)
	}
}

func (c *Chat) printProfile() {
	c.mu.Lock()
	profile := c.profile
	status := make([]string, 0, len(c.status))
	for id, state := range c.status {
		status = append(status, id+"="+state)
	}
	c.mu.Unlock()
	sort.Strings(status)

	fmt.Fprintf(c.out, "%s\n%s\n%s Stage\n", c.bold(profile.StartupName), profile.FounderName, profile.Stage)
	if profile.ProfileImage != "" {
		fmt.Fprintf(c.out, "Image: %s\n", NormalizeMessage(profile.ProfileImage))
	}
	if len(status) > 0 {
		fmt.Fprintf(c.out, "Agents: %s\n", strings.Join(status, ", "))
	}
}
