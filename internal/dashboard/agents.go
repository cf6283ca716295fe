package dashboard

import (
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

// DefaultAgent 是启动时选中的智能体。
const DefaultAgent = "core"

// Agent 描述仪表盘上的一个智能体。
type Agent struct {
	ID          string
	Name        string
	Description string
	Color       string
	Attr        color.Attribute
}

// Agents 按展示顺序列出全部智能体。
var Agents = []Agent{
	{ID: "core", Name: "StartupX Core", Description: "Your central AI brain and strategic coordinator.", Color: "#00d4ff", Attr: color.FgCyan},
	{ID: "compliance", Name: "Strategy & Market Agent", Description: "Market research, competitor analysis, and compliance.", Color: "#00ff9d", Attr: color.FgGreen},
	{ID: "ip_shield", Name: "IP & Legal Shield", Description: "Trademark checks, patent overlaps, and brand protection.", Color: "#7000ff", Attr: color.FgMagenta},
	{ID: "procurement", Name: "Funding & Procurement", Description: "Investor readiness, budget allocation, and vendor sourcing.", Color: "#ffaa00", Attr: color.FgYellow},
	{ID: "risk", Name: "Failure Risk Agent", Description: "Risk diagnosis, contingency planning, and recovery strategies.", Color: "#ff3c3c", Attr: color.FgRed},
}

// LookupAgent 按 ID 查找智能体。
func LookupAgent(id string) (Agent, bool) {
	id = strings.TrimSpace(id)
	for _, agent := range Agents {
		if agent.ID == id {
			return agent, true
		}
	}
	return Agent{}, false
}

// NewSessionID 生成 "session_" 加 9 个随机字符的会话 ID。
func NewSessionID() string {
	return "session_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}
