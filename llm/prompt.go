package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/rajarshidattapy/BlendAI/history"
	"github.com/rajarshidattapy/BlendAI/types"
)

// systemPreamble is the fixed head of every system prompt. It pins the
// model to the closed command grammar the translator accepts.
const systemPreamble = `You are an assistant that edits a 3D scene on behalf of the user.
Respond with ONLY a JSON array of edit commands. No prose, no markdown fences.
Each command is an object with an "op" field and parameters:
  {"op":"add_object","target":"<new name>","primitive":"cube|sphere|cone|cylinder|plane","location":{"x":0,"y":0,"z":0}}
  {"op":"remove_object","target":"<object name>"}
  {"op":"set_property","target":"<object name>","property":"<property name>","value":<number>}
  {"op":"transform","target":"<object name>","translate":{...},"rotate_deg":{...},"scale":{...}}
  {"op":"set_color","target":"<object name>","color":{"r":0,"g":0,"b":0,"a":1}}
Rules:
- "target" of every command except add_object must name an object from the scene listed below.
- Color channels lie in [0,1]. Rotation is in degrees within [-360,360]. Scale components are positive.
- If the request cannot be expressed with these commands, respond with an empty array [].`

// tokenCounter counts prompt tokens via tiktoken, lazily initialized.
// When the encoding cannot be loaded it falls back to a bytes/4 estimate
// so prompt assembly never fails on a missing encoding file.
type tokenCounter struct {
	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

func (c *tokenCounter) Count(s string) int {
	c.once.Do(func() {
		c.enc, c.initErr = tiktoken.GetEncoding("cl100k_base")
	})
	if c.initErr != nil || c.enc == nil {
		return (len(s) + 3) / 4
	}
	return len(c.enc.Encode(s, nil, nil))
}

// promptBuilder assembles the system and user prompts for one dispatch.
type promptBuilder struct {
	counter          tokenCounter
	maxContextTokens int
	historyDepth     int
}

// buildSystem renders the system prompt: grammar, token-bounded scene
// context, and recent session history. Objects beyond the token budget are
// dropped from the end of the snapshot, never mid-object.
func (b *promptBuilder) buildSystem(req *types.EditRequest, past []history.Entry) string {
	var sb strings.Builder
	sb.WriteString(systemPreamble)

	sb.WriteString("\n\nScene objects:\n")
	budget := b.maxContextTokens
	if budget <= 0 {
		budget = 2048
	}
	used := b.counter.Count(systemPreamble)
	truncated := false
	if req.Context != nil {
		for _, obj := range req.Context.Objects {
			line := renderObject(obj)
			cost := b.counter.Count(line)
			if used+cost > budget {
				truncated = true
				break
			}
			used += cost
			sb.WriteString(line)
		}
	}
	if req.Context == nil || len(req.Context.Objects) == 0 {
		sb.WriteString("  (none selected)\n")
	}
	if truncated {
		sb.WriteString("  (remaining objects omitted)\n")
	}

	if len(past) > 0 {
		sb.WriteString("\nPrevious interactions:\n")
		for _, e := range past {
			fmt.Fprintf(&sb, "  user: %s\n  commands: %s\n", e.Prompt, e.Response)
		}
	}
	return sb.String()
}

func renderObject(obj types.SceneObject) string {
	if len(obj.Properties) == 0 {
		if obj.Kind == "" {
			return fmt.Sprintf("  - %s\n", obj.Name)
		}
		return fmt.Sprintf("  - %s (%s)\n", obj.Name, obj.Kind)
	}
	props, _ := json.Marshal(obj.Properties)
	return fmt.Sprintf("  - %s (%s) %s\n", obj.Name, obj.Kind, props)
}
