package message

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const ruleWidth = 80

var (
	roleColors = map[Role]lipgloss.Color{
		RoleSystem: lipgloss.Color("245"),
		RoleHuman:  lipgloss.Color("39"),
		RoleAI:     lipgloss.Color("42"),
		RoleTool:   lipgloss.Color("214"),
	}
	escalationColor = lipgloss.Color("203")
	detailStyle     = lipgloss.NewStyle().PaddingLeft(2).Faint(true)
)

// Title returns the heading used by Pretty, e.g. "Ai Message".
func (m Message) Title() string {
	role := string(m.Role)
	if role == "" {
		return "Message"
	}
	return strings.ToUpper(role[:1]) + role[1:] + " Message"
}

// Pretty renders the message for a terminal: a colored rule with the title,
// the content, and the tool calls if any. Colors are dropped when the output
// is not a terminal.
func (m Message) Pretty() string {
	color, ok := roleColors[m.Role]
	if !ok {
		color = roleColors[RoleSystem]
	}
	if m.Kind == KindEscalationRequest {
		color = escalationColor
	}

	title := " " + m.Title() + " "
	left := max((ruleWidth-len(title))/2, 3)
	right := max(ruleWidth-len(title)-left, 3)
	rule := strings.Repeat("=", left) + title + strings.Repeat("=", right)

	var sb strings.Builder
	sb.WriteString(lipgloss.NewStyle().Bold(true).Foreground(color).Render(rule))
	sb.WriteString("\n")
	if m.Name != "" {
		fmt.Fprintf(&sb, "Name: %s\n\n", m.Name)
	}
	if m.Content != "" {
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	if len(m.ToolCalls) > 0 {
		sb.WriteString("Tool Calls:\n")
		for _, call := range m.ToolCalls {
			detail := fmt.Sprintf("%s (%s)\n Call ID: %s\n Args: %s", call.Name, call.ID, call.ID, call.Arguments)
			sb.WriteString(detailStyle.Render(detail))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
